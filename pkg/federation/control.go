package federation

import "context"

// Executor performs one operation against one member at a time and accumulates
// the outcomes. Invoke reports true once the executor needs no further members.
type Executor interface {
	Method() string
	Invoke(ctx context.Context, m Member) bool
}

// Parallel invokes the executor on every member concurrently. It returns when all
// members have answered, when an invocation reports completion, or when ctx is
// done. Members still running at that point see their context cancelled.
func Parallel(ctx context.Context, members []Member, ex Executor) {
	if len(members) == 0 {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan bool, len(members))
	for _, m := range members {
		m := m
		go func() {
			done <- ex.Invoke(ctx, m)
		}()
	}

	for range members {
		select {
		case complete := <-done:
			if complete {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Sequential invokes the executor on each member in order until one reports completion.
func Sequential(ctx context.Context, members []Member, ex Executor) {
	for _, m := range members {
		if ctx.Err() != nil {
			return
		}
		if ex.Invoke(ctx, m) {
			return
		}
	}
}

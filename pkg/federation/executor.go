package federation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"metacohort/pkg/repository"

	"go.uber.org/zap"
)

// policy decides what an executor does with member failures.
type policy struct {
	// priority lists operation-specific kinds. They rank after user, repository
	// and property errors and before invalid-parameter errors.
	priority []repository.Kind
	// tolerate lists kinds that are dropped without being reported.
	tolerate []repository.Kind
	// stopOn lists kinds that end the fan-out as soon as they are seen.
	stopOn []repository.Kind
}

func (p policy) order() []repository.Kind {
	out := []repository.Kind{
		repository.KindUserNotAuthorized,
		repository.KindRepositoryError,
		repository.KindPropertyError,
	}
	out = append(out, p.priority...)
	return append(out, repository.KindInvalidParameter)
}

// tolerates reports whether a failure of kind k is ignored. Function-not-supported
// is always ignored unless the operation ranks it.
func (p policy) tolerates(k repository.Kind) bool {
	if hasKind(p.tolerate, k) {
		return true
	}
	return k == repository.KindFunctionNotSupported && !hasKind(p.priority, k)
}

func hasKind(list []repository.Kind, k repository.Kind) bool {
	for _, v := range list {
		if v == k {
			return true
		}
	}
	return false
}

// executor is the single Executor implementation. call runs the operation on a
// member and fold merges a successful result, reporting whether nothing more is
// needed. fold always runs under the executor's mutex.
type executor[T any] struct {
	method  string
	call    func(ctx context.Context, m Member) (T, error)
	fold    func(v T) bool
	policy  policy
	logger  *zap.Logger
	metrics *Metrics

	mu       sync.Mutex
	sealed   bool
	complete bool
	stopped  bool
	errs     map[repository.Kind]error
}

func newExecutor[T any](ec *EnterpriseCollection, method string, call func(context.Context, Member) (T, error), fold func(T) bool, p policy) *executor[T] {
	return &executor[T]{
		method:  method,
		call:    call,
		fold:    fold,
		policy:  p,
		logger:  ec.logger,
		metrics: ec.metrics,
		errs:    make(map[repository.Kind]error),
	}
}

func (e *executor[T]) Method() string { return e.method }

func (e *executor[T]) Invoke(ctx context.Context, m Member) bool {
	v, err := e.call(ctx, m)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sealed {
		return true
	}
	if err != nil {
		e.capture(m, err)
		return e.complete || e.stopped
	}
	if e.fold(v) {
		e.complete = true
	}
	return e.complete
}

// capture records the first failure of each kind. Failures that are not
// repository errors are reported as repository errors naming the member.
func (e *executor[T]) capture(m Member, err error) {
	kind := repository.KindOf(err)
	if kind == repository.KindUnknown {
		err = &repository.Error{
			Kind:    repository.KindRepositoryError,
			Method:  e.method,
			Message: fmt.Sprintf("member %s failed", m.ID),
			Err:     err,
		}
		kind = repository.KindRepositoryError
	}
	e.metrics.memberFailure(e.method, kind.String())

	if e.policy.tolerates(kind) {
		e.logger.Debug("Ignoring member failure",
			zap.String("method", e.method),
			zap.String("collection_id", m.ID),
			zap.Stringer("kind", kind))
		return
	}

	e.logger.Debug("Member call failed",
		zap.String("method", e.method),
		zap.String("collection_id", m.ID),
		zap.Error(err))
	if _, seen := e.errs[kind]; !seen {
		e.errs[kind] = err
	}
	if hasKind(e.policy.stopOn, kind) {
		e.stopped = true
	}
}

// finish seals the executor so late members are ignored, then reports the
// outcome. found is evaluated under the executor's mutex; when it reports a
// result the captured failures are discarded.
func (e *executor[T]) finish(ctx context.Context, found func() bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sealed = true
	if found() {
		return nil
	}
	if err := e.failureLocked(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return repository.Wrap(repository.KindRepositoryError, e.method, ctx.Err())
	}
	return nil
}

// captured returns the failure recorded for kind, if any.
func (e *executor[T]) captured(kind repository.Kind) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errs[kind]
}

func (e *executor[T]) failureLocked() error {
	for _, k := range e.policy.order() {
		if err, ok := e.errs[k]; ok {
			return err
		}
	}

	rest := make([]repository.Kind, 0, len(e.errs))
	for k := range e.errs {
		rest = append(rest, k)
	}
	if len(rest) == 0 {
		return nil
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	k := rest[0]
	return &repository.Error{
		Kind:    repository.KindRepositoryError,
		Method:  e.method,
		Message: fmt.Sprintf("unexpected %s from a member", k),
		Err:     e.errs[k],
	}
}

package federation

import (
	"context"
	"errors"
	"testing"

	"metacohort/pkg/repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted answers each member from a fixed table.
func scripted(answers map[string]error) func(context.Context, Member) (string, error) {
	return func(ctx context.Context, m Member) (string, error) {
		if err := answers[m.ID]; err != nil {
			return "", err
		}
		return m.ID, nil
	}
}

func failure(kind repository.Kind) error {
	return repository.Errorf(kind, "Test", "%s from member", kind)
}

func TestExecutorErrorPriority(t *testing.T) {
	ec := NewEnterpriseCollection("enterprise")
	p := policy{priority: kinds(repository.KindEntityNotKnown, repository.KindTypeError)}

	tests := []struct {
		name    string
		answers map[string]error
		want    repository.Kind
	}{
		{
			name: "user not authorized first",
			answers: map[string]error{
				"a": failure(repository.KindRepositoryError),
				"b": failure(repository.KindUserNotAuthorized),
				"c": failure(repository.KindEntityNotKnown),
			},
			want: repository.KindUserNotAuthorized,
		},
		{
			name: "repository before property",
			answers: map[string]error{
				"a": failure(repository.KindPropertyError),
				"b": failure(repository.KindRepositoryError),
			},
			want: repository.KindRepositoryError,
		},
		{
			name: "operation kinds in listed order",
			answers: map[string]error{
				"a": failure(repository.KindTypeError),
				"b": failure(repository.KindEntityNotKnown),
			},
			want: repository.KindEntityNotKnown,
		},
		{
			name: "invalid parameter last",
			answers: map[string]error{
				"a": failure(repository.KindInvalidParameter),
				"b": failure(repository.KindTypeError),
			},
			want: repository.KindTypeError,
		},
		{
			name: "unlisted kinds become repository errors",
			answers: map[string]error{
				"a": failure(repository.KindEntityNotDeleted),
			},
			want: repository.KindRepositoryError,
		},
		{
			name: "foreign errors become repository errors",
			answers: map[string]error{
				"a": errors.New("connection reset"),
			},
			want: repository.KindRepositoryError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := newExecutor(ec, "Test", scripted(tt.answers), func(string) bool { return false }, p)
			ids := make([]string, 0, len(tt.answers))
			for id := range tt.answers {
				ids = append(ids, id)
			}
			Sequential(context.Background(), named(ids...), ex)
			err := ex.finish(context.Background(), func() bool { return false })
			require.Error(t, err)
			assert.Equal(t, tt.want, repository.KindOf(err))
		})
	}
}

func TestExecutorToleratesNotSupported(t *testing.T) {
	ec := NewEnterpriseCollection("enterprise")
	answers := map[string]error{"a": failure(repository.KindFunctionNotSupported)}

	ex := newExecutor(ec, "Test", scripted(answers), func(string) bool { return false }, policy{})
	Sequential(context.Background(), named("a"), ex)
	assert.NoError(t, ex.finish(context.Background(), func() bool { return false }))

	ranked := policy{priority: kinds(repository.KindFunctionNotSupported)}
	ex = newExecutor(ec, "Test", scripted(answers), func(string) bool { return false }, ranked)
	Sequential(context.Background(), named("a"), ex)
	err := ex.finish(context.Background(), func() bool { return false })
	assert.Equal(t, repository.KindFunctionNotSupported, repository.KindOf(err))
}

func TestExecutorResultBeatsFailures(t *testing.T) {
	ec := NewEnterpriseCollection("enterprise")
	var got []string
	ex := newExecutor(ec, "Test", scripted(map[string]error{"a": failure(repository.KindRepositoryError)}),
		func(v string) bool {
			got = append(got, v)
			return true
		}, policy{})

	Sequential(context.Background(), named("a", "b", "c"), ex)
	require.NoError(t, ex.finish(context.Background(), func() bool { return len(got) > 0 }))
	assert.Equal(t, []string{"b"}, got)
	assert.NotNil(t, ex.captured(repository.KindRepositoryError))
}

func TestExecutorStopOn(t *testing.T) {
	ec := NewEnterpriseCollection("enterprise")
	answers := map[string]error{"a": failure(repository.KindTypeDefConflict)}
	var folded int
	ex := newExecutor(ec, "Test", scripted(answers), func(string) bool {
		folded++
		return false
	}, policy{priority: kinds(repository.KindTypeDefConflict), stopOn: kinds(repository.KindTypeDefConflict)})

	Sequential(context.Background(), named("a", "b"), ex)
	assert.Equal(t, 0, folded)
	err := ex.finish(context.Background(), func() bool { return false })
	assert.Equal(t, repository.KindTypeDefConflict, repository.KindOf(err))
}

func TestExecutorIgnoresLateMembers(t *testing.T) {
	ec := NewEnterpriseCollection("enterprise")
	var folded int
	ex := newExecutor(ec, "Test", scripted(nil), func(string) bool {
		folded++
		return false
	}, policy{})

	ex.Invoke(context.Background(), Member{ID: "a"})
	require.NoError(t, ex.finish(context.Background(), func() bool { return folded > 0 }))
	assert.True(t, ex.Invoke(context.Background(), Member{ID: "b"}))
	assert.Equal(t, 1, folded)
}

func TestExecutorCancelledWithoutAnswers(t *testing.T) {
	ec := NewEnterpriseCollection("enterprise")
	ex := newExecutor(ec, "Test", scripted(nil), func(string) bool { return false }, policy{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ex.finish(ctx, func() bool { return false })
	assert.Equal(t, repository.KindRepositoryError, repository.KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecutorCountsMemberFailures(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	ec := NewEnterpriseCollection("enterprise", WithMetrics(metrics))
	answers := map[string]error{
		"a": failure(repository.KindEntityNotKnown),
		"b": failure(repository.KindEntityNotKnown),
		"c": failure(repository.KindFunctionNotSupported),
	}
	ex := newExecutor(ec, "GetEntityDetail", scripted(answers), func(string) bool { return false }, entityLookupPolicy)
	Parallel(context.Background(), named("a", "b", "c"), ex)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.MemberFailures.WithLabelValues("GetEntityDetail", "EntityNotKnown")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MemberFailures.WithLabelValues("GetEntityDetail", "FunctionNotSupported")))
}

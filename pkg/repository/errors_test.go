package repository

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"metacohort/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesSentinelByKind(t *testing.T) {
	err := Errorf(KindEntityNotKnown, "GetEntityDetail", "entity %s is not known", "g1")

	assert.True(t, errors.Is(err, ErrEntityNotKnown))
	assert.False(t, errors.Is(err, ErrRelationshipNotKnown))
	assert.Equal(t, KindEntityNotKnown, KindOf(err))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, errors.Is(wrapped, ErrEntityNotKnown))
	assert.Equal(t, KindEntityNotKnown, KindOf(wrapped))
}

func TestErrorMessage(t *testing.T) {
	err := Errorf(KindInvalidParameter, "FindEntities", "bad %s", "thing")
	assert.Equal(t, "InvalidParameter in FindEntities: bad thing", err.Error())

	cause := errors.New("connection refused")
	wrapped := Wrap(KindRepositoryError, "GetEntityDetail", cause)
	assert.Contains(t, wrapped.Error(), "connection refused")
	assert.True(t, errors.Is(wrapped, cause))
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestParseKindRoundTrip(t *testing.T) {
	for k := KindUnknown; k <= KindNoRepositories; k++ {
		assert.Equal(t, k, ParseKind(k.String()))
	}
	assert.Equal(t, KindUnknown, ParseKind("NoSuchKind"))
}

func TestValidator(t *testing.T) {
	v := Validator{Now: func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }}

	require.Error(t, v.UserID("", "m"))
	assert.Equal(t, KindUserNotAuthorized, KindOf(v.UserID("", "m")))
	assert.NoError(t, v.UserID("alice", "m"))

	denied := Validator{Authorize: func(userID, method string) error {
		if userID == "mallory" {
			return errors.New("blocked")
		}
		return nil
	}}
	assert.Equal(t, KindUserNotAuthorized, KindOf(denied.UserID("mallory", "m")))
	assert.NoError(t, denied.UserID("alice", "m"))

	future := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, KindInvalidParameter, KindOf(v.AsOfTime(&future, "m")))

	assert.Equal(t, KindPagingError, KindOf(v.Paging(types.Paging{PageSize: -1}, "m")))
	assert.Equal(t, KindPagingError, KindOf(v.Paging(types.Paging{FromElement: -3}, "m")))
	assert.Equal(t, KindInvalidParameter, KindOf(v.Paging(types.Paging{SequencingOrder: types.SequencePropertyAscending}, "m")))
	assert.NoError(t, v.Paging(types.Paging{SequencingOrder: types.SequencePropertyAscending, SequencingProperty: "name"}, "m"))

	assert.Equal(t, KindStatusNotSupported, KindOf(v.InitialStatus(types.StatusDeleted, "m")))
	assert.Equal(t, KindStatusNotSupported, KindOf(v.Statuses([]types.InstanceStatus{types.StatusUnknown}, "m")))
	assert.Equal(t, KindInvalidParameter, KindOf(v.Regex("([", "criteria", "m")))
	assert.Equal(t, KindInvalidParameter, KindOf(v.SearchProperties(&types.SearchProperties{
		Conditions: []types.PropertyCondition{{Property: "name", Operator: types.OpLike, Value: 3}},
	}, "m")))
	assert.Equal(t, KindInvalidTypeDef, KindOf(v.TypeDef(&types.TypeDef{Name: "x"}, "m")))
}

package remote

import (
	"testing"
	"time"

	"metacohort/pkg/repository"
	"metacohort/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestRequestEnvelope(t *testing.T) {
	asOf := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := types.PropertyQuery{
		TypeGUID:        "asset-type",
		MatchProperties: types.InstanceProperties{"name": "orders"},
		Paging:          types.Paging{PageSize: 25, AsOfTime: &asOf},
	}
	req, err := newRequest(user, []interface{}{"e-1", q, (*time.Time)(nil)})
	require.NoError(t, err)

	b, err := proto.Marshal(req.message())
	require.NoError(t, err)
	msg := &structpb.Struct{}
	require.NoError(t, proto.Unmarshal(b, msg))

	decoded, err := requestFrom(msg)
	require.NoError(t, err)
	assert.Equal(t, user, decoded.UserID)

	var (
		guid string
		got  types.PropertyQuery
		at   *time.Time
	)
	require.NoError(t, decoded.scan(&guid, &got, &at))
	assert.Equal(t, "e-1", guid)
	assert.Equal(t, "asset-type", got.TypeGUID)
	assert.Equal(t, "orders", got.MatchProperties["name"])
	assert.Equal(t, 25, got.PageSize)
	require.NotNil(t, got.AsOfTime)
	assert.True(t, asOf.Equal(*got.AsOfTime))
	assert.Nil(t, at)

	err = decoded.scan(&guid)
	assert.Equal(t, repository.KindInvalidParameter, repository.KindOf(err))
}

func TestRequestWithoutUser(t *testing.T) {
	_, err := requestFrom(&structpb.Struct{Fields: map[string]*structpb.Value{}})
	assert.Error(t, err)

	_, err = requestFrom(&structpb.Struct{Fields: map[string]*structpb.Value{
		userIDField: structpb.NewStringValue(user),
		argsField:   structpb.NewNumberValue(1),
	}})
	assert.Error(t, err)
}

func TestResponseValues(t *testing.T) {
	v, err := toValue(&types.TypeDefLink{GUID: "t-1", Name: "Asset"})
	require.NoError(t, err)
	var link *types.TypeDefLink
	require.NoError(t, fromValue(v, &link))
	require.NotNil(t, link)
	assert.Equal(t, "Asset", link.Name)

	null, err := toValue((*types.TypeDefLink)(nil))
	require.NoError(t, err)
	link = nil
	require.NoError(t, fromValue(null, &link))
	assert.Nil(t, link)

	require.NoError(t, fromValue(&structpb.Value{}, &link))
	assert.Nil(t, link)
}

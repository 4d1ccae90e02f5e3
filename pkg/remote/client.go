package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"metacohort/pkg/repository"
	"metacohort/pkg/types"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultCallTimeout bounds each attempt of a remote call.
const DefaultCallTimeout = 10 * time.Second

// Client is a repository.MetadataCollection served by another process. It is
// also the connector the member is registered under.
type Client struct {
	address     string
	pool        *ConnectionPool
	retrier     *Retrier
	callTimeout time.Duration
	logger      *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetrier sets the retry policy for transport failures.
func WithRetrier(r *Retrier) ClientOption {
	return func(c *Client) { c.retrier = r }
}

// WithCallTimeout bounds each attempt. Zero leaves attempts bounded only by
// the caller's context.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.callTimeout = d }
}

// WithClientLogger sets the logger.
func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient returns a client for the member at address. No connection is made
// until the first call.
func NewClient(address string, pool *ConnectionPool, opts ...ClientOption) *Client {
	c := &Client{
		address:     address,
		pool:        pool,
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.retrier == nil {
		c.retrier = NewRetrier(DefaultRetryConfig(), c.logger)
	}
	return c
}

// Address returns the member address.
func (c *Client) Address() string { return c.address }

// Collection implements repository.Connector.
func (c *Client) Collection() repository.MetadataCollection { return c }

// Disconnect closes the pooled connection to the member.
func (c *Client) Disconnect() error {
	if err := c.pool.Release(c.address); err != nil {
		return fmt.Errorf("disconnect %s: %w", c.address, err)
	}
	return nil
}

// call invokes method and decodes the result into out. Answers from the
// member come back as *repository.Error; transport failures that outlast the
// retries are reported as repository errors.
func (c *Client) call(ctx context.Context, method, userID string, out interface{}, args ...interface{}) error {
	req, err := newRequest(userID, args)
	if err != nil {
		return repository.Wrap(repository.KindInvalidParameter, method, err)
	}
	msg := req.message()

	resp := &structpb.Value{}
	err = c.retrier.Do(ctx, method, func(ctx context.Context) error {
		conn, err := c.pool.Get(c.address)
		if err != nil {
			return err
		}
		if c.callTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
			defer cancel()
		}

		var trailer metadata.MD
		resp = &structpb.Value{}
		err = conn.Invoke(ctx, fullMethod(method), msg, resp, grpc.Trailer(&trailer))
		if err == nil {
			c.pool.MarkSuccess(c.address)
			return nil
		}
		if re := fromStatus(err, trailer); re != nil {
			c.pool.MarkSuccess(c.address)
			return re
		}
		c.pool.MarkFailure(c.address)
		return err
	})
	if err != nil {
		var re *repository.Error
		if errors.As(err, &re) {
			return re
		}
		c.logger.Debug("Remote call failed",
			zap.String("address", c.address),
			zap.String("method", method),
			zap.Error(err))
		return repository.Wrap(repository.KindRepositoryError, method, fmt.Errorf("member at %s: %w", c.address, err))
	}

	if out == nil {
		return nil
	}
	if err := fromValue(resp, out); err != nil {
		return repository.Wrap(repository.KindRepositoryError, method, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// Types

func (c *Client) GetMetadataCollectionID(ctx context.Context, userID string) (string, error) {
	var id string
	err := c.call(ctx, "GetMetadataCollectionID", userID, &id)
	return id, err
}

func (c *Client) GetAllTypes(ctx context.Context, userID string) (*types.TypeDefGallery, error) {
	var out *types.TypeDefGallery
	err := c.call(ctx, "GetAllTypes", userID, &out)
	return out, err
}

func (c *Client) FindTypesByName(ctx context.Context, userID, name string) (*types.TypeDefGallery, error) {
	var out *types.TypeDefGallery
	err := c.call(ctx, "FindTypesByName", userID, &out, name)
	return out, err
}

func (c *Client) FindTypeDefsByCategory(ctx context.Context, userID string, category types.TypeDefCategory) ([]*types.TypeDef, error) {
	var out []*types.TypeDef
	err := c.call(ctx, "FindTypeDefsByCategory", userID, &out, category)
	return out, err
}

func (c *Client) FindAttributeTypeDefsByCategory(ctx context.Context, userID string, category types.AttributeTypeDefCategory) ([]*types.AttributeTypeDef, error) {
	var out []*types.AttributeTypeDef
	err := c.call(ctx, "FindAttributeTypeDefsByCategory", userID, &out, category)
	return out, err
}

func (c *Client) FindTypeDefsByProperty(ctx context.Context, userID string, criteria *types.TypeDefProperties) ([]*types.TypeDef, error) {
	var out []*types.TypeDef
	err := c.call(ctx, "FindTypeDefsByProperty", userID, &out, criteria)
	return out, err
}

func (c *Client) FindTypesByExternalID(ctx context.Context, userID, standard, organization, identifier string) ([]*types.TypeDef, error) {
	var out []*types.TypeDef
	err := c.call(ctx, "FindTypesByExternalID", userID, &out, standard, organization, identifier)
	return out, err
}

func (c *Client) SearchTypeDefs(ctx context.Context, userID, searchCriteria string) ([]*types.TypeDef, error) {
	var out []*types.TypeDef
	err := c.call(ctx, "SearchTypeDefs", userID, &out, searchCriteria)
	return out, err
}

func (c *Client) GetTypeDefByGUID(ctx context.Context, userID, guid string) (*types.TypeDef, error) {
	var out *types.TypeDef
	err := c.call(ctx, "GetTypeDefByGUID", userID, &out, guid)
	return out, err
}

func (c *Client) GetAttributeTypeDefByGUID(ctx context.Context, userID, guid string) (*types.AttributeTypeDef, error) {
	var out *types.AttributeTypeDef
	err := c.call(ctx, "GetAttributeTypeDefByGUID", userID, &out, guid)
	return out, err
}

func (c *Client) GetTypeDefByName(ctx context.Context, userID, name string) (*types.TypeDef, error) {
	var out *types.TypeDef
	err := c.call(ctx, "GetTypeDefByName", userID, &out, name)
	return out, err
}

func (c *Client) GetAttributeTypeDefByName(ctx context.Context, userID, name string) (*types.AttributeTypeDef, error) {
	var out *types.AttributeTypeDef
	err := c.call(ctx, "GetAttributeTypeDefByName", userID, &out, name)
	return out, err
}

func (c *Client) VerifyTypeDef(ctx context.Context, userID string, def *types.TypeDef) (bool, error) {
	var ok bool
	err := c.call(ctx, "VerifyTypeDef", userID, &ok, def)
	return ok, err
}

func (c *Client) VerifyAttributeTypeDef(ctx context.Context, userID string, def *types.AttributeTypeDef) (bool, error) {
	var ok bool
	err := c.call(ctx, "VerifyAttributeTypeDef", userID, &ok, def)
	return ok, err
}

func (c *Client) AddTypeDefGallery(ctx context.Context, userID string, gallery *types.TypeDefGallery) error {
	return c.call(ctx, "AddTypeDefGallery", userID, nil, gallery)
}

func (c *Client) AddTypeDef(ctx context.Context, userID string, def *types.TypeDef) error {
	return c.call(ctx, "AddTypeDef", userID, nil, def)
}

func (c *Client) AddAttributeTypeDef(ctx context.Context, userID string, def *types.AttributeTypeDef) error {
	return c.call(ctx, "AddAttributeTypeDef", userID, nil, def)
}

func (c *Client) UpdateTypeDef(ctx context.Context, userID string, patch *types.TypeDefPatch) (*types.TypeDef, error) {
	var out *types.TypeDef
	err := c.call(ctx, "UpdateTypeDef", userID, &out, patch)
	return out, err
}

func (c *Client) DeleteTypeDef(ctx context.Context, userID, guid, name string) error {
	return c.call(ctx, "DeleteTypeDef", userID, nil, guid, name)
}

func (c *Client) DeleteAttributeTypeDef(ctx context.Context, userID, guid, name string) error {
	return c.call(ctx, "DeleteAttributeTypeDef", userID, nil, guid, name)
}

func (c *Client) ReIdentifyTypeDef(ctx context.Context, userID, originalGUID, originalName, newGUID, newName string) (*types.TypeDef, error) {
	var out *types.TypeDef
	err := c.call(ctx, "ReIdentifyTypeDef", userID, &out, originalGUID, originalName, newGUID, newName)
	return out, err
}

func (c *Client) ReIdentifyAttributeTypeDef(ctx context.Context, userID, originalGUID, originalName, newGUID, newName string) (*types.AttributeTypeDef, error) {
	var out *types.AttributeTypeDef
	err := c.call(ctx, "ReIdentifyAttributeTypeDef", userID, &out, originalGUID, originalName, newGUID, newName)
	return out, err
}

// Entity reads

func (c *Client) IsEntityKnown(ctx context.Context, userID, guid string) (*types.EntityDetail, error) {
	var out *types.EntityDetail
	err := c.call(ctx, "IsEntityKnown", userID, &out, guid)
	return out, err
}

func (c *Client) GetEntitySummary(ctx context.Context, userID, guid string) (*types.EntitySummary, error) {
	var out *types.EntitySummary
	err := c.call(ctx, "GetEntitySummary", userID, &out, guid)
	return out, err
}

func (c *Client) GetEntityDetail(ctx context.Context, userID, guid string) (*types.EntityDetail, error) {
	var out *types.EntityDetail
	err := c.call(ctx, "GetEntityDetail", userID, &out, guid)
	return out, err
}

func (c *Client) GetEntityDetailAsOf(ctx context.Context, userID, guid string, asOf time.Time) (*types.EntityDetail, error) {
	var out *types.EntityDetail
	err := c.call(ctx, "GetEntityDetailAsOf", userID, &out, guid, asOf)
	return out, err
}

func (c *Client) GetEntityDetailHistory(ctx context.Context, userID, guid string, q types.HistoryQuery) ([]*types.EntityDetail, error) {
	var out []*types.EntityDetail
	err := c.call(ctx, "GetEntityDetailHistory", userID, &out, guid, q)
	return out, err
}

func (c *Client) GetRelationshipsForEntity(ctx context.Context, userID, entityGUID string, q types.RelationshipsForEntityQuery) ([]*types.Relationship, error) {
	var out []*types.Relationship
	err := c.call(ctx, "GetRelationshipsForEntity", userID, &out, entityGUID, q)
	return out, err
}

func (c *Client) FindEntities(ctx context.Context, userID string, q types.EntityQuery) ([]*types.EntityDetail, error) {
	var out []*types.EntityDetail
	err := c.call(ctx, "FindEntities", userID, &out, q)
	return out, err
}

func (c *Client) FindEntitiesByProperty(ctx context.Context, userID string, q types.PropertyQuery) ([]*types.EntityDetail, error) {
	var out []*types.EntityDetail
	err := c.call(ctx, "FindEntitiesByProperty", userID, &out, q)
	return out, err
}

func (c *Client) FindEntitiesByClassification(ctx context.Context, userID string, q types.ClassificationQuery) ([]*types.EntityDetail, error) {
	var out []*types.EntityDetail
	err := c.call(ctx, "FindEntitiesByClassification", userID, &out, q)
	return out, err
}

func (c *Client) FindEntitiesByPropertyValue(ctx context.Context, userID string, q types.ValueQuery) ([]*types.EntityDetail, error) {
	var out []*types.EntityDetail
	err := c.call(ctx, "FindEntitiesByPropertyValue", userID, &out, q)
	return out, err
}

// Relationship reads

func (c *Client) IsRelationshipKnown(ctx context.Context, userID, guid string) (*types.Relationship, error) {
	var out *types.Relationship
	err := c.call(ctx, "IsRelationshipKnown", userID, &out, guid)
	return out, err
}

func (c *Client) GetRelationship(ctx context.Context, userID, guid string) (*types.Relationship, error) {
	var out *types.Relationship
	err := c.call(ctx, "GetRelationship", userID, &out, guid)
	return out, err
}

func (c *Client) GetRelationshipAsOf(ctx context.Context, userID, guid string, asOf time.Time) (*types.Relationship, error) {
	var out *types.Relationship
	err := c.call(ctx, "GetRelationshipAsOf", userID, &out, guid, asOf)
	return out, err
}

func (c *Client) GetRelationshipHistory(ctx context.Context, userID, guid string, q types.HistoryQuery) ([]*types.Relationship, error) {
	var out []*types.Relationship
	err := c.call(ctx, "GetRelationshipHistory", userID, &out, guid, q)
	return out, err
}

func (c *Client) FindRelationships(ctx context.Context, userID string, q types.RelationshipQuery) ([]*types.Relationship, error) {
	var out []*types.Relationship
	err := c.call(ctx, "FindRelationships", userID, &out, q)
	return out, err
}

func (c *Client) FindRelationshipsByProperty(ctx context.Context, userID string, q types.PropertyQuery) ([]*types.Relationship, error) {
	var out []*types.Relationship
	err := c.call(ctx, "FindRelationshipsByProperty", userID, &out, q)
	return out, err
}

func (c *Client) FindRelationshipsByPropertyValue(ctx context.Context, userID string, q types.ValueQuery) ([]*types.Relationship, error) {
	var out []*types.Relationship
	err := c.call(ctx, "FindRelationshipsByPropertyValue", userID, &out, q)
	return out, err
}

// Graph

func (c *Client) GetLinkingEntities(ctx context.Context, userID, startGUID, endGUID string, q types.GraphQuery) (*types.InstanceGraph, error) {
	var out *types.InstanceGraph
	err := c.call(ctx, "GetLinkingEntities", userID, &out, startGUID, endGUID, q)
	return out, err
}

func (c *Client) GetEntityNeighborhood(ctx context.Context, userID, entityGUID string, q types.NeighborhoodQuery) (*types.InstanceGraph, error) {
	var out *types.InstanceGraph
	err := c.call(ctx, "GetEntityNeighborhood", userID, &out, entityGUID, q)
	return out, err
}

func (c *Client) GetRelatedEntities(ctx context.Context, userID, startGUID string, q types.RelatedQuery) ([]*types.EntityDetail, error) {
	var out []*types.EntityDetail
	err := c.call(ctx, "GetRelatedEntities", userID, &out, startGUID, q)
	return out, err
}

// Entity writes

func (c *Client) AddEntity(ctx context.Context, userID string, req types.NewEntity) (*types.EntityDetail, error) {
	var out *types.EntityDetail
	err := c.call(ctx, "AddEntity", userID, &out, req)
	return out, err
}

func (c *Client) AddEntityProxy(ctx context.Context, userID string, proxy *types.EntityProxy) error {
	return c.call(ctx, "AddEntityProxy", userID, nil, proxy)
}

func (c *Client) UpdateEntityStatus(ctx context.Context, userID, guid string, status types.InstanceStatus) (*types.EntityDetail, error) {
	var out *types.EntityDetail
	err := c.call(ctx, "UpdateEntityStatus", userID, &out, guid, status)
	return out, err
}

func (c *Client) UpdateEntityProperties(ctx context.Context, userID, guid string, props types.InstanceProperties) (*types.EntityDetail, error) {
	var out *types.EntityDetail
	err := c.call(ctx, "UpdateEntityProperties", userID, &out, guid, props)
	return out, err
}

func (c *Client) UndoEntityUpdate(ctx context.Context, userID, guid string) (*types.EntityDetail, error) {
	var out *types.EntityDetail
	err := c.call(ctx, "UndoEntityUpdate", userID, &out, guid)
	return out, err
}

func (c *Client) DeleteEntity(ctx context.Context, userID, typeGUID, typeName, guid string) (*types.EntityDetail, error) {
	var out *types.EntityDetail
	err := c.call(ctx, "DeleteEntity", userID, &out, typeGUID, typeName, guid)
	return out, err
}

func (c *Client) PurgeEntity(ctx context.Context, userID, typeGUID, typeName, guid string) error {
	return c.call(ctx, "PurgeEntity", userID, nil, typeGUID, typeName, guid)
}

func (c *Client) RestoreEntity(ctx context.Context, userID, guid string) (*types.EntityDetail, error) {
	var out *types.EntityDetail
	err := c.call(ctx, "RestoreEntity", userID, &out, guid)
	return out, err
}

func (c *Client) ClassifyEntity(ctx context.Context, userID, entityGUID, classificationName string, props types.InstanceProperties) (*types.EntityDetail, error) {
	var out *types.EntityDetail
	err := c.call(ctx, "ClassifyEntity", userID, &out, entityGUID, classificationName, props)
	return out, err
}

func (c *Client) DeclassifyEntity(ctx context.Context, userID, entityGUID, classificationName string) (*types.EntityDetail, error) {
	var out *types.EntityDetail
	err := c.call(ctx, "DeclassifyEntity", userID, &out, entityGUID, classificationName)
	return out, err
}

func (c *Client) UpdateEntityClassification(ctx context.Context, userID, entityGUID, classificationName string, props types.InstanceProperties) (*types.EntityDetail, error) {
	var out *types.EntityDetail
	err := c.call(ctx, "UpdateEntityClassification", userID, &out, entityGUID, classificationName, props)
	return out, err
}

// Relationship writes

func (c *Client) AddRelationship(ctx context.Context, userID string, req types.NewRelationship) (*types.Relationship, error) {
	var out *types.Relationship
	err := c.call(ctx, "AddRelationship", userID, &out, req)
	return out, err
}

func (c *Client) UpdateRelationshipStatus(ctx context.Context, userID, guid string, status types.InstanceStatus) (*types.Relationship, error) {
	var out *types.Relationship
	err := c.call(ctx, "UpdateRelationshipStatus", userID, &out, guid, status)
	return out, err
}

func (c *Client) UpdateRelationshipProperties(ctx context.Context, userID, guid string, props types.InstanceProperties) (*types.Relationship, error) {
	var out *types.Relationship
	err := c.call(ctx, "UpdateRelationshipProperties", userID, &out, guid, props)
	return out, err
}

func (c *Client) UndoRelationshipUpdate(ctx context.Context, userID, guid string) (*types.Relationship, error) {
	var out *types.Relationship
	err := c.call(ctx, "UndoRelationshipUpdate", userID, &out, guid)
	return out, err
}

func (c *Client) DeleteRelationship(ctx context.Context, userID, typeGUID, typeName, guid string) (*types.Relationship, error) {
	var out *types.Relationship
	err := c.call(ctx, "DeleteRelationship", userID, &out, typeGUID, typeName, guid)
	return out, err
}

func (c *Client) PurgeRelationship(ctx context.Context, userID, typeGUID, typeName, guid string) error {
	return c.call(ctx, "PurgeRelationship", userID, nil, typeGUID, typeName, guid)
}

func (c *Client) RestoreRelationship(ctx context.Context, userID, guid string) (*types.Relationship, error) {
	var out *types.Relationship
	err := c.call(ctx, "RestoreRelationship", userID, &out, guid)
	return out, err
}

// Identity, type and home changes

func (c *Client) ReIdentifyEntity(ctx context.Context, userID, typeGUID, typeName, guid, newGUID string) (*types.EntityDetail, error) {
	var out *types.EntityDetail
	err := c.call(ctx, "ReIdentifyEntity", userID, &out, typeGUID, typeName, guid, newGUID)
	return out, err
}

func (c *Client) ReTypeEntity(ctx context.Context, userID, guid string, current, target *types.TypeDefSummary) (*types.EntityDetail, error) {
	var out *types.EntityDetail
	err := c.call(ctx, "ReTypeEntity", userID, &out, guid, current, target)
	return out, err
}

func (c *Client) ReHomeEntity(ctx context.Context, userID, guid, typeGUID, typeName, homeID, newHomeID, newHomeName string) (*types.EntityDetail, error) {
	var out *types.EntityDetail
	err := c.call(ctx, "ReHomeEntity", userID, &out, guid, typeGUID, typeName, homeID, newHomeID, newHomeName)
	return out, err
}

func (c *Client) ReIdentifyRelationship(ctx context.Context, userID, typeGUID, typeName, guid, newGUID string) (*types.Relationship, error) {
	var out *types.Relationship
	err := c.call(ctx, "ReIdentifyRelationship", userID, &out, typeGUID, typeName, guid, newGUID)
	return out, err
}

func (c *Client) ReTypeRelationship(ctx context.Context, userID, guid string, current, target *types.TypeDefSummary) (*types.Relationship, error) {
	var out *types.Relationship
	err := c.call(ctx, "ReTypeRelationship", userID, &out, guid, current, target)
	return out, err
}

func (c *Client) ReHomeRelationship(ctx context.Context, userID, guid, typeGUID, typeName, homeID, newHomeID, newHomeName string) (*types.Relationship, error) {
	var out *types.Relationship
	err := c.call(ctx, "ReHomeRelationship", userID, &out, guid, typeGUID, typeName, homeID, newHomeID, newHomeName)
	return out, err
}

// Reference copies

func (c *Client) SaveEntityReferenceCopy(ctx context.Context, userID string, entity *types.EntityDetail) error {
	return c.call(ctx, "SaveEntityReferenceCopy", userID, nil, entity)
}

func (c *Client) PurgeEntityReferenceCopy(ctx context.Context, userID, guid, typeGUID, typeName, homeID string) error {
	return c.call(ctx, "PurgeEntityReferenceCopy", userID, nil, guid, typeGUID, typeName, homeID)
}

func (c *Client) RefreshEntityReferenceCopy(ctx context.Context, userID, guid, typeGUID, typeName, homeID string) error {
	return c.call(ctx, "RefreshEntityReferenceCopy", userID, nil, guid, typeGUID, typeName, homeID)
}

func (c *Client) SaveRelationshipReferenceCopy(ctx context.Context, userID string, rel *types.Relationship) error {
	return c.call(ctx, "SaveRelationshipReferenceCopy", userID, nil, rel)
}

func (c *Client) PurgeRelationshipReferenceCopy(ctx context.Context, userID, guid, typeGUID, typeName, homeID string) error {
	return c.call(ctx, "PurgeRelationshipReferenceCopy", userID, nil, guid, typeGUID, typeName, homeID)
}

func (c *Client) RefreshRelationshipReferenceCopy(ctx context.Context, userID, guid, typeGUID, typeName, homeID string) error {
	return c.call(ctx, "RefreshRelationshipReferenceCopy", userID, nil, guid, typeGUID, typeName, homeID)
}

func (c *Client) SaveClassificationReferenceCopy(ctx context.Context, userID string, entity *types.EntityDetail, classification *types.Classification) error {
	return c.call(ctx, "SaveClassificationReferenceCopy", userID, nil, entity, classification)
}

func (c *Client) PurgeClassificationReferenceCopy(ctx context.Context, userID string, entity *types.EntityDetail, classification *types.Classification) error {
	return c.call(ctx, "PurgeClassificationReferenceCopy", userID, nil, entity, classification)
}

func (c *Client) SaveInstanceReferenceCopies(ctx context.Context, userID string, batch *types.InstanceGraph) error {
	return c.call(ctx, "SaveInstanceReferenceCopies", userID, nil, batch)
}

var (
	_ repository.MetadataCollection = (*Client)(nil)
	_ repository.Connector          = (*Client)(nil)
)

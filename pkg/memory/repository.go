// Package memory provides an in-process metadata collection. It backs the local
// member of a served cohort node and stands in for remote members in tests.
package memory

import (
	"context"
	"sync"
	"time"

	"metacohort/pkg/repository"
	"metacohort/pkg/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var _ repository.Connector = (*Repository)(nil)

// Repository holds typedefs and versioned instances in memory.
type Repository struct {
	id        string
	name      string
	logger    *zap.Logger
	validator repository.Validator
	now       func() time.Time
	newGUID   func() string

	mu                sync.RWMutex
	typeDefs          map[string]*types.TypeDef
	attributeTypeDefs map[string]*types.AttributeTypeDef
	entities          map[string]*entityRecord
	proxies           map[string]*types.EntityProxy
	relationships     map[string]*relationshipRecord
}

// entityRecord keeps every version of an entity, oldest first.
type entityRecord struct {
	versions []*types.EntityDetail
}

func (r *entityRecord) current() *types.EntityDetail {
	return r.versions[len(r.versions)-1]
}

// asOf returns the version in force at t, or nil if the entity did not exist yet.
func (r *entityRecord) asOf(t time.Time) *types.EntityDetail {
	var found *types.EntityDetail
	for _, v := range r.versions {
		if v.UpdateTime.After(t) {
			break
		}
		found = v
	}
	return found
}

type relationshipRecord struct {
	versions []*types.Relationship
}

func (r *relationshipRecord) current() *types.Relationship {
	return r.versions[len(r.versions)-1]
}

func (r *relationshipRecord) asOf(t time.Time) *types.Relationship {
	var found *types.Relationship
	for _, v := range r.versions {
		if v.UpdateTime.After(t) {
			break
		}
		found = v
	}
	return found
}

// Option configures a Repository.
type Option func(*Repository)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Repository) { r.logger = logger }
}

func WithName(name string) Option {
	return func(r *Repository) { r.name = name }
}

// WithClock replaces time.Now, mainly for tests that exercise as-of queries.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		r.now = now
		r.validator.Now = now
	}
}

// WithAuthorizer installs a per-call user check.
func WithAuthorizer(authorize func(userID, method string) error) Option {
	return func(r *Repository) { r.validator.Authorize = authorize }
}

// New creates an empty repository identified by collectionID.
func New(collectionID string, opts ...Option) *Repository {
	r := &Repository{
		id:                collectionID,
		name:              collectionID,
		now:               time.Now,
		newGUID:           func() string { return uuid.NewString() },
		typeDefs:          make(map[string]*types.TypeDef),
		attributeTypeDefs: make(map[string]*types.AttributeTypeDef),
		entities:          make(map[string]*entityRecord),
		proxies:           make(map[string]*types.EntityProxy),
		relationships:     make(map[string]*relationshipRecord),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Collection implements repository.Connector.
func (r *Repository) Collection() repository.MetadataCollection { return r }

// Disconnect implements repository.Connector. The repository keeps its contents.
func (r *Repository) Disconnect() error { return nil }

// MetadataCollectionID returns the id the repository homes instances under.
func (r *Repository) MetadataCollectionID() string { return r.id }

func (r *Repository) checkUser(userID, method string) error {
	return r.validator.UserID(userID, method)
}

// owns reports whether this repository may mutate the instance.
func (r *Repository) owns(h types.Homed) bool {
	return h.HomeCollection() == r.id || (h.ReplicatedByCollection() != "" && h.ReplicatedByCollection() == r.id)
}

func (r *Repository) notHome(method string, h types.Homed) error {
	return repository.Errorf(repository.KindInvalidParameter, method,
		"instance %s is homed in %s, not in metadata collection %s", h.Identity(), h.HomeCollection(), r.id)
}

// typeLocked resolves a TypeDef by GUID. Callers hold r.mu.
func (r *Repository) typeLocked(guid string) *types.TypeDef {
	return r.typeDefs[guid]
}

func (r *Repository) typeByNameLocked(name string) *types.TypeDef {
	for _, def := range r.typeDefs {
		if def.Name == name {
			return def
		}
	}
	return nil
}

// instanceTypeLocked builds the InstanceType for def, walking its supertypes.
func (r *Repository) instanceTypeLocked(def *types.TypeDef) types.InstanceType {
	it := types.InstanceType{TypeDefGUID: def.GUID, TypeDefName: def.Name, TypeDefCategory: def.Category}
	seen := map[string]bool{def.GUID: true}
	for link := def.SuperType; link != nil; {
		it.SuperTypeNames = append(it.SuperTypeNames, link.Name)
		parent := r.typeDefs[link.GUID]
		if parent == nil || seen[parent.GUID] {
			break
		}
		seen[parent.GUID] = true
		link = parent.SuperType
	}
	return it
}

// declaredLocked reports whether def or one of its supertypes declares property.
func (r *Repository) declaredLocked(def *types.TypeDef, property string) bool {
	seen := map[string]bool{}
	for d := def; d != nil && !seen[d.GUID]; {
		if d.HasAttribute(property) {
			return true
		}
		seen[d.GUID] = true
		if d.SuperType == nil {
			return false
		}
		d = r.typeDefs[d.SuperType.GUID]
	}
	return false
}

func (r *Repository) checkPropertiesLocked(def *types.TypeDef, props types.InstanceProperties, method string) error {
	for name := range props {
		if !r.declaredLocked(def, name) {
			return repository.Errorf(repository.KindPropertyError, method, "property %s is not defined for type %s", name, def.Name)
		}
	}
	return nil
}

func (r *Repository) galleryLocked() *types.TypeDefGallery {
	g := &types.TypeDefGallery{}
	for _, def := range r.typeDefs {
		g.TypeDefs = append(g.TypeDefs, def)
	}
	for _, def := range r.attributeTypeDefs {
		g.AttributeTypeDefs = append(g.AttributeTypeDefs, def)
	}
	sortGallery(g)
	return g
}

func (r *Repository) GetMetadataCollectionID(ctx context.Context, userID string) (string, error) {
	if err := r.checkUser(userID, "GetMetadataCollectionID"); err != nil {
		return "", err
	}
	return r.id, nil
}

func (r *Repository) GetAllTypes(ctx context.Context, userID string) (*types.TypeDefGallery, error) {
	if err := r.checkUser(userID, "GetAllTypes"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.galleryLocked(), nil
}

func (r *Repository) FindTypesByName(ctx context.Context, userID, name string) (*types.TypeDefGallery, error) {
	const method = "FindTypesByName"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.Regex(name, "name", method); err != nil {
		return nil, err
	}
	expr, _ := types.CompileFull(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.galleryLocked().MatchingName(expr), nil
}

func (r *Repository) FindTypeDefsByCategory(ctx context.Context, userID string, category types.TypeDefCategory) ([]*types.TypeDef, error) {
	if err := r.checkUser(userID, "FindTypeDefsByCategory"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.galleryLocked().FilterTypeDefs(func(d *types.TypeDef) bool { return d.Category == category }), nil
}

func (r *Repository) FindAttributeTypeDefsByCategory(ctx context.Context, userID string, category types.AttributeTypeDefCategory) ([]*types.AttributeTypeDef, error) {
	if err := r.checkUser(userID, "FindAttributeTypeDefsByCategory"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.galleryLocked().FilterAttributeTypeDefs(func(d *types.AttributeTypeDef) bool { return d.Category == category }), nil
}

func (r *Repository) FindTypeDefsByProperty(ctx context.Context, userID string, criteria *types.TypeDefProperties) ([]*types.TypeDef, error) {
	const method = "FindTypeDefsByProperty"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if criteria == nil || len(criteria.Names) == 0 {
		return nil, repository.Errorf(repository.KindInvalidParameter, method, "match criteria must name at least one property")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.galleryLocked().FilterTypeDefs(func(d *types.TypeDef) bool { return d.DeclaresAll(criteria.Names) }), nil
}

func (r *Repository) FindTypesByExternalID(ctx context.Context, userID, standard, organization, identifier string) ([]*types.TypeDef, error) {
	const method = "FindTypesByExternalID"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if standard == "" && organization == "" && identifier == "" {
		return nil, repository.Errorf(repository.KindInvalidParameter, method, "at least one of standard, organization or identifier is required")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.galleryLocked().FilterTypeDefs(func(d *types.TypeDef) bool { return d.MapsTo(standard, organization, identifier) }), nil
}

func (r *Repository) SearchTypeDefs(ctx context.Context, userID, searchCriteria string) ([]*types.TypeDef, error) {
	const method = "SearchTypeDefs"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.Regex(searchCriteria, "searchCriteria", method); err != nil {
		return nil, err
	}
	expr, _ := types.CompileFull(searchCriteria)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.galleryLocked().FilterTypeDefs(func(d *types.TypeDef) bool {
		return types.FullMatch(expr, d.Name) || types.FullMatch(expr, d.Description)
	}), nil
}

func (r *Repository) GetTypeDefByGUID(ctx context.Context, userID, guid string) (*types.TypeDef, error) {
	const method = "GetTypeDefByGUID"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.typeDefs[guid]; ok {
		return def, nil
	}
	return nil, repository.Errorf(repository.KindTypeDefNotKnown, method, "typedef %s is not known to %s", guid, r.id)
}

func (r *Repository) GetAttributeTypeDefByGUID(ctx context.Context, userID, guid string) (*types.AttributeTypeDef, error) {
	const method = "GetAttributeTypeDefByGUID"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.attributeTypeDefs[guid]; ok {
		return def, nil
	}
	return nil, repository.Errorf(repository.KindTypeDefNotKnown, method, "attribute typedef %s is not known to %s", guid, r.id)
}

func (r *Repository) GetTypeDefByName(ctx context.Context, userID, name string) (*types.TypeDef, error) {
	const method = "GetTypeDefByName"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.Name(name, "name", method); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def := r.typeByNameLocked(name); def != nil {
		return def, nil
	}
	return nil, repository.Errorf(repository.KindTypeDefNotKnown, method, "typedef %s is not known to %s", name, r.id)
}

func (r *Repository) GetAttributeTypeDefByName(ctx context.Context, userID, name string) (*types.AttributeTypeDef, error) {
	const method = "GetAttributeTypeDefByName"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if err := r.validator.Name(name, "name", method); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, def := range r.attributeTypeDefs {
		if def.Name == name {
			return def, nil
		}
	}
	return nil, repository.Errorf(repository.KindTypeDefNotKnown, method, "attribute typedef %s is not known to %s", name, r.id)
}

// VerifyTypeDef returns true for an exact match, false when the type is unknown,
// and a TypeDefConflict error when a type with the same GUID differs.
func (r *Repository) VerifyTypeDef(ctx context.Context, userID string, def *types.TypeDef) (bool, error) {
	const method = "VerifyTypeDef"
	if err := r.checkUser(userID, method); err != nil {
		return false, err
	}
	if err := r.validator.TypeDef(def, method); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	known, ok := r.typeDefs[def.GUID]
	if !ok {
		return false, nil
	}
	if known.Name != def.Name || known.Version != def.Version || known.Category != def.Category {
		return false, repository.Errorf(repository.KindTypeDefConflict, method,
			"typedef %s is known as %s version %d", def.GUID, known.Name, known.Version)
	}
	return true, nil
}

func (r *Repository) VerifyAttributeTypeDef(ctx context.Context, userID string, def *types.AttributeTypeDef) (bool, error) {
	const method = "VerifyAttributeTypeDef"
	if err := r.checkUser(userID, method); err != nil {
		return false, err
	}
	if err := r.validator.AttributeTypeDef(def, method); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	known, ok := r.attributeTypeDefs[def.GUID]
	if !ok {
		return false, nil
	}
	if known.Name != def.Name || known.Version != def.Version || known.Category != def.Category {
		return false, repository.Errorf(repository.KindTypeDefConflict, method,
			"attribute typedef %s is known as %s version %d", def.GUID, known.Name, known.Version)
	}
	return true, nil
}

func (r *Repository) AddTypeDefGallery(ctx context.Context, userID string, gallery *types.TypeDefGallery) error {
	const method = "AddTypeDefGallery"
	if err := r.checkUser(userID, method); err != nil {
		return err
	}
	if gallery == nil {
		return repository.Errorf(repository.KindInvalidParameter, method, "gallery must not be nil")
	}
	for _, def := range gallery.AttributeTypeDefs {
		if err := r.AddAttributeTypeDef(ctx, userID, def); err != nil {
			return err
		}
	}
	for _, def := range gallery.TypeDefs {
		if err := r.AddTypeDef(ctx, userID, def); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) AddTypeDef(ctx context.Context, userID string, def *types.TypeDef) error {
	const method = "AddTypeDef"
	if err := r.checkUser(userID, method); err != nil {
		return err
	}
	if err := r.validator.TypeDef(def, method); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.typeDefs[def.GUID]; ok {
		return repository.Errorf(repository.KindTypeDefConflict, method, "typedef %s is already defined", def.GUID)
	}
	if existing := r.typeByNameLocked(def.Name); existing != nil {
		return repository.Errorf(repository.KindTypeDefConflict, method, "typedef name %s is already used by %s", def.Name, existing.GUID)
	}
	stored := *def
	if stored.Status == "" {
		stored.Status = types.TypeDefActive
	}
	if stored.Origin == "" {
		stored.Origin = r.id
	}
	r.typeDefs[def.GUID] = &stored
	r.logger.Debug("Added typedef", zap.String("collection_id", r.id), zap.String("type", def.Name))
	return nil
}

func (r *Repository) AddAttributeTypeDef(ctx context.Context, userID string, def *types.AttributeTypeDef) error {
	const method = "AddAttributeTypeDef"
	if err := r.checkUser(userID, method); err != nil {
		return err
	}
	if err := r.validator.AttributeTypeDef(def, method); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.attributeTypeDefs[def.GUID]; ok {
		return repository.Errorf(repository.KindTypeDefConflict, method, "attribute typedef %s is already defined", def.GUID)
	}
	stored := *def
	r.attributeTypeDefs[def.GUID] = &stored
	return nil
}

func (r *Repository) UpdateTypeDef(ctx context.Context, userID string, patch *types.TypeDefPatch) (*types.TypeDef, error) {
	const method = "UpdateTypeDef"
	if err := r.checkUser(userID, method); err != nil {
		return nil, err
	}
	if patch == nil {
		return nil, repository.Errorf(repository.KindInvalidParameter, method, "patch must not be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.typeDefs[patch.TypeDefGUID]
	if !ok {
		return nil, repository.Errorf(repository.KindTypeDefNotKnown, method, "typedef %s is not known to %s", patch.TypeDefGUID, r.id)
	}
	if def.Version != patch.ApplyToVersion {
		return nil, repository.Errorf(repository.KindTypeDefConflict, method,
			"patch applies to version %d but typedef %s is at version %d", patch.ApplyToVersion, def.Name, def.Version)
	}
	updated := *def
	updated.Version = patch.UpdateToVersion
	if patch.NewVersionName != "" {
		updated.VersionName = patch.NewVersionName
	}
	if patch.Description != "" {
		updated.Description = patch.Description
	}
	updated.Attributes = append(append([]*types.TypeDefAttribute(nil), def.Attributes...), patch.PropertyDefinitions...)
	r.typeDefs[def.GUID] = &updated
	return &updated, nil
}

func (r *Repository) DeleteTypeDef(ctx context.Context, userID, guid, name string) error {
	const method = "DeleteTypeDef"
	if err := r.checkUser(userID, method); err != nil {
		return err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.typeDefs[guid]
	if !ok || (name != "" && def.Name != name) {
		return repository.Errorf(repository.KindTypeDefNotKnown, method, "typedef %s (%s) is not known to %s", guid, name, r.id)
	}
	for _, rec := range r.entities {
		if rec.current().Type.TypeDefGUID == guid {
			return repository.Errorf(repository.KindTypeDefConflict, method, "typedef %s is still in use", def.Name)
		}
	}
	for _, rec := range r.relationships {
		if rec.current().Type.TypeDefGUID == guid {
			return repository.Errorf(repository.KindTypeDefConflict, method, "typedef %s is still in use", def.Name)
		}
	}
	delete(r.typeDefs, guid)
	return nil
}

func (r *Repository) DeleteAttributeTypeDef(ctx context.Context, userID, guid, name string) error {
	const method = "DeleteAttributeTypeDef"
	if err := r.checkUser(userID, method); err != nil {
		return err
	}
	if err := r.validator.GUID(guid, "guid", method); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.attributeTypeDefs[guid]
	if !ok || (name != "" && def.Name != name) {
		return repository.Errorf(repository.KindTypeDefNotKnown, method, "attribute typedef %s (%s) is not known to %s", guid, name, r.id)
	}
	delete(r.attributeTypeDefs, guid)
	return nil
}

func (r *Repository) ReIdentifyTypeDef(ctx context.Context, userID, originalGUID, originalName, newGUID, newName string) (*types.TypeDef, error) {
	return nil, repository.NotSupported("ReIdentifyTypeDef", r.id)
}

func (r *Repository) ReIdentifyAttributeTypeDef(ctx context.Context, userID, originalGUID, originalName, newGUID, newName string) (*types.AttributeTypeDef, error) {
	return nil, repository.NotSupported("ReIdentifyAttributeTypeDef", r.id)
}

package federation

import (
	"context"
	"time"

	"metacohort/pkg/repository"

	"go.uber.org/zap"
)

// ConnectorManager is how membership changes reach the enterprise layer.
// Implementations must be safe for concurrent use.
type ConnectorManager interface {
	SetLocalConnector(collectionID string, connector repository.Connector)
	AddRemoteConnector(collectionID string, connector repository.Connector)
	RemoveRemoteConnector(collectionID string)
	DisconnectAllConnectors()
}

const (
	strategyParallel   = "parallel"
	strategySequential = "sequential"
	strategyNone       = "none"
)

var (
	_ repository.MetadataCollection = (*EnterpriseCollection)(nil)
	_ repository.Connector          = (*EnterpriseCollection)(nil)
	_ ConnectorManager              = (*EnterpriseCollection)(nil)
)

// DefaultAsOfRetries is how many extra attempts GetEntityDetailAsOf makes when
// no member can return the entity.
const DefaultAsOfRetries = 4

// EnterpriseCollection is the virtual metadata collection spanning every registered member.
type EnterpriseCollection struct {
	collectionID string
	registry     *Registry
	validator    repository.Validator
	logger       *zap.Logger
	audit        Auditor
	metrics      *Metrics

	asOfRetries int
	retryDelay  time.Duration
}

// Option configures an EnterpriseCollection.
type Option func(*EnterpriseCollection)

func WithLogger(logger *zap.Logger) Option {
	return func(ec *EnterpriseCollection) { ec.logger = logger }
}

func WithAuditor(auditor Auditor) Option {
	return func(ec *EnterpriseCollection) { ec.audit = auditor }
}

func WithMetrics(metrics *Metrics) Option {
	return func(ec *EnterpriseCollection) { ec.metrics = metrics }
}

// WithAsOfRetries sets the number of extra as-of attempts. Negative values are ignored.
func WithAsOfRetries(n int) Option {
	return func(ec *EnterpriseCollection) {
		if n >= 0 {
			ec.asOfRetries = n
		}
	}
}

// WithRetryDelay sets the pause between as-of attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(ec *EnterpriseCollection) { ec.retryDelay = d }
}

// WithAuthorizer installs a per-call user check applied before any member is contacted.
func WithAuthorizer(authorize func(userID, method string) error) Option {
	return func(ec *EnterpriseCollection) { ec.validator.Authorize = authorize }
}

// NewEnterpriseCollection creates an enterprise collection with no members.
// collectionID names the enterprise view in errors and audit events.
func NewEnterpriseCollection(collectionID string, opts ...Option) *EnterpriseCollection {
	ec := &EnterpriseCollection{
		collectionID: collectionID,
		asOfRetries:  DefaultAsOfRetries,
	}
	for _, opt := range opts {
		opt(ec)
	}
	if ec.logger == nil {
		ec.logger = zap.NewNop()
	}
	if ec.audit == nil {
		ec.audit = NewLogAuditor(ec.logger)
	}
	ec.registry = NewRegistry(ec.logger)
	return ec
}

// Collection implements repository.Connector so the enterprise view can be served like any member.
func (ec *EnterpriseCollection) Collection() repository.MetadataCollection { return ec }

// Disconnect disconnects every member.
func (ec *EnterpriseCollection) Disconnect() error {
	ec.DisconnectAllConnectors()
	return nil
}

// Registry exposes the member registry for inspection.
func (ec *EnterpriseCollection) Registry() *Registry { return ec.registry }

func (ec *EnterpriseCollection) SetLocalConnector(collectionID string, connector repository.Connector) {
	ec.registry.SetLocal(collectionID, connector)
	ec.metrics.members(ec.registry.Len())
	ec.audit.Record(AuditEvent{
		Code:     AuditLocalConnector,
		Severity: SeverityInfo,
		Message:  "Local metadata collection registered with the enterprise layer",
		Params:   map[string]string{"collection_id": collectionID},
	})
}

func (ec *EnterpriseCollection) AddRemoteConnector(collectionID string, connector repository.Connector) {
	refreshed := ec.registry.AddOrRefresh(collectionID, connector)
	ec.metrics.members(ec.registry.Len())
	event := AuditEvent{
		Code:     AuditMemberJoined,
		Severity: SeverityInfo,
		Message:  "Remote metadata collection joined the enterprise layer",
		Params:   map[string]string{"collection_id": collectionID},
	}
	if refreshed {
		event.Code = AuditMemberRefreshed
		event.Message = "Remote metadata collection connector refreshed"
	}
	ec.audit.Record(event)
}

func (ec *EnterpriseCollection) RemoveRemoteConnector(collectionID string) {
	if !ec.registry.Remove(collectionID) {
		return
	}
	ec.metrics.members(ec.registry.Len())
	ec.audit.Record(AuditEvent{
		Code:     AuditMemberLeft,
		Severity: SeverityInfo,
		Message:  "Remote metadata collection left the enterprise layer",
		Params:   map[string]string{"collection_id": collectionID},
	})
}

func (ec *EnterpriseCollection) DisconnectAllConnectors() {
	ec.registry.DisconnectAll()
	ec.metrics.members(0)
	ec.audit.Record(AuditEvent{
		Code:     AuditAllDisconnected,
		Severity: SeverityInfo,
		Message:  "All metadata collections disconnected from the enterprise layer",
		Params:   map[string]string{"collection_id": ec.collectionID},
	})
}

// GetMetadataCollectionID returns the enterprise collection's own id without contacting members.
func (ec *EnterpriseCollection) GetMetadataCollectionID(ctx context.Context, userID string) (string, error) {
	if err := ec.validator.UserID(userID, "GetMetadataCollectionID"); err != nil {
		return "", err
	}
	return ec.collectionID, nil
}

// members takes a fresh registry snapshot for one call.
func (ec *EnterpriseCollection) members(method string) ([]Member, error) {
	members, err := ec.registry.Snapshot()
	if err != nil {
		return nil, repository.Errorf(repository.KindNoRepositories, method,
			"no metadata collections are registered with enterprise collection %s", ec.collectionID)
	}
	return members, nil
}

// begin counts a request and returns the func that records its latency.
func (ec *EnterpriseCollection) begin(method, strategy string) func() {
	ec.metrics.request(method, strategy)
	start := time.Now()
	return func() { ec.metrics.observe(method, start) }
}

func (ec *EnterpriseCollection) noHome(err error, h interface{ Identity() string }) error {
	if repository.KindOf(err) == repository.KindNoHome {
		ec.audit.Record(AuditEvent{
			Code:     AuditNoHome,
			Severity: SeverityWarning,
			Message:  "No registered member is home to the instance",
			Params:   map[string]string{"guid": h.Identity()},
		})
	}
	return err
}

// notSupported fails an operation the enterprise layer does not route.
func (ec *EnterpriseCollection) notSupported(method string) error {
	ec.metrics.request(method, strategyNone)
	ec.audit.Record(AuditEvent{
		Code:     AuditNotSupported,
		Severity: SeverityWarning,
		Message:  "Operation is not supported by the enterprise layer",
		Params:   map[string]string{"method": method},
	})
	return repository.NotSupported(method, ec.collectionID)
}

// control is Parallel or Sequential.
type control func(ctx context.Context, members []Member, ex Executor)

// first returns the first non-nil result any member produces.
func first[T any](ctx context.Context, ec *EnterpriseCollection, method string, run control, members []Member, p policy,
	call func(ctx context.Context, m Member) (*T, error)) (*T, error) {
	var out *T
	ex := newExecutor(ec, method, call, func(v *T) bool {
		if v == nil {
			return false
		}
		if out == nil {
			out = v
		}
		return true
	}, p)
	run(ctx, members, ex)
	if err := ex.finish(ctx, func() bool { return out != nil }); err != nil {
		return nil, err
	}
	return out, nil
}

// merge unions every member's results in parallel, keyed by key. A later
// result for the same key overwrites an earlier one.
func merge[T any](ctx context.Context, ec *EnterpriseCollection, method string, members []Member, p policy,
	key func(T) string, call func(ctx context.Context, c repository.MetadataCollection) ([]T, error)) ([]T, error) {
	byKey := make(map[string]T)
	var keys []string
	ex := newExecutor(ec, method, func(ctx context.Context, m Member) ([]T, error) {
		return call(ctx, m.Collection())
	}, func(vs []T) bool {
		for _, v := range vs {
			k := key(v)
			if _, ok := byKey[k]; !ok {
				keys = append(keys, k)
			}
			byKey[k] = v
		}
		return false
	}, p)
	Parallel(ctx, members, ex)
	if err := ex.finish(ctx, func() bool { return len(byKey) > 0 }); err != nil {
		return nil, err
	}
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, byKey[k])
	}
	return out, nil
}

// once runs an operation without a result until the first member succeeds.
func once(ctx context.Context, ec *EnterpriseCollection, method string, run control, members []Member, p policy,
	call func(ctx context.Context, m Member) error) error {
	done := false
	ex := newExecutor(ec, method, func(ctx context.Context, m Member) (struct{}, error) {
		return struct{}{}, call(ctx, m)
	}, func(struct{}) bool {
		done = true
		return true
	}, p)
	run(ctx, members, ex)
	return ex.finish(ctx, func() bool { return done })
}

func kinds(k ...repository.Kind) []repository.Kind { return k }

var (
	unionPolicy           = policy{}
	typeLookupPolicy      = policy{priority: kinds(repository.KindTypeDefNotKnown)}
	verifyPolicy          = policy{priority: kinds(repository.KindTypeDefConflict, repository.KindInvalidTypeDef), stopOn: kinds(repository.KindTypeDefConflict)}
	entityLookupPolicy    = policy{priority: kinds(repository.KindEntityProxyOnly, repository.KindEntityNotKnown)}
	entityHistoryPolicy   = policy{priority: kinds(repository.KindEntityProxyOnly, repository.KindEntityNotKnown, repository.KindPagingError)}
	relLookupPolicy       = policy{priority: kinds(repository.KindRelationshipNotKnown)}
	relHistoryPolicy      = policy{priority: kinds(repository.KindRelationshipNotKnown, repository.KindPagingError)}
	findPolicy            = policy{priority: kinds(repository.KindTypeError, repository.KindPagingError, repository.KindStatusNotSupported, repository.KindClassificationError)}
	entityRelationsPolicy = policy{priority: kinds(repository.KindTypeError, repository.KindPagingError, repository.KindStatusNotSupported), tolerate: kinds(repository.KindEntityNotKnown)}
	graphPolicy           = policy{priority: kinds(repository.KindEntityNotKnown, repository.KindTypeError, repository.KindPagingError, repository.KindStatusNotSupported)}
	addPolicy             = policy{priority: kinds(repository.KindTypeDefNotKnown, repository.KindTypeError, repository.KindClassificationError, repository.KindStatusNotSupported, repository.KindEntityNotKnown, repository.KindFunctionNotSupported)}
	classifyPolicy        = policy{priority: kinds(repository.KindClassificationError, repository.KindEntityNotKnown, repository.KindEntityProxyOnly, repository.KindStatusNotSupported, repository.KindFunctionNotSupported), stopOn: kinds(repository.KindClassificationError)}
	homeEntityPolicy      = policy{priority: kinds(repository.KindEntityNotKnown, repository.KindEntityProxyOnly, repository.KindTypeError, repository.KindStatusNotSupported, repository.KindEntityNotDeleted, repository.KindFunctionNotSupported)}
	homeRelPolicy         = policy{priority: kinds(repository.KindRelationshipNotKnown, repository.KindTypeError, repository.KindStatusNotSupported, repository.KindRelationshipNotDeleted, repository.KindFunctionNotSupported)}
)

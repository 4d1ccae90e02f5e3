package federation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"metacohort/pkg/memory"
	"metacohort/pkg/repository"
	"metacohort/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var assetQuery = types.EntityQuery{TypeGUID: memory.AssetGUID}

func TestEnterpriseWithoutMembers(t *testing.T) {
	ctx := context.Background()
	ec := NewEnterpriseCollection("enterprise")

	id, err := ec.GetMetadataCollectionID(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "enterprise", id)

	_, err = ec.FindEntities(ctx, user, assetQuery)
	assert.Equal(t, repository.KindNoRepositories, repository.KindOf(err))
	assert.ErrorIs(t, err, repository.ErrNoRepositories)

	_, err = ec.GetAllTypes(ctx, "")
	assert.Equal(t, repository.KindUserNotAuthorized, repository.KindOf(err))
}

func TestParallelFindMergesMembers(t *testing.T) {
	ctx := context.Background()
	a := newMember(t, "cohort-a")
	b := newMember(t, "cohort-b")
	alpha := addAsset(t, a, "alpha")
	beta := addAsset(t, b, "beta")

	copied := alpha.Clone()
	copied.Properties["name"] = "alpha-copy"
	require.NoError(t, b.SaveEntityReferenceCopy(ctx, user, copied))

	// b answers only after a has been folded, so its copy of alpha is folded last.
	aDone := make(chan struct{})
	ha := &hookedCollection{Repository: a, afterFind: func() { close(aDone) }}
	hb := &hookedCollection{Repository: b, beforeFind: func() {
		<-aDone
		time.Sleep(20 * time.Millisecond)
	}}
	ec := newCohort(t, nil, local("cohort-a", ha), remote("cohort-b", hb))

	found, err := ec.FindEntities(ctx, user, assetQuery)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{alpha.GUID, beta.GUID}, guids(found))
	for _, e := range found {
		if e.GUID == alpha.GUID {
			assert.Equal(t, "alpha-copy", e.Properties["name"])
		}
	}
}

func TestParallelFindEmptyResult(t *testing.T) {
	ctx := context.Background()
	ec := newCohort(t, nil, local("cohort-a", newMember(t, "cohort-a")), remote("cohort-b", newMember(t, "cohort-b")))

	found, err := ec.FindEntities(ctx, user, assetQuery)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestSequentialWritesTouchOneMember(t *testing.T) {
	ctx := context.Background()
	l := newMember(t, "cohort-l")
	r := newMember(t, "cohort-r")
	ec := newCohort(t, nil, local("cohort-l", l), remote("cohort-r", r))

	t.Run("add goes to the first member that accepts", func(t *testing.T) {
		created := addAsset(t, ec, "created")
		assert.Equal(t, "cohort-l", created.HomeMetadataCollectionID)

		_, err := r.GetEntityDetail(ctx, user, created.GUID)
		assert.Equal(t, repository.KindEntityNotKnown, repository.KindOf(err))
	})

	t.Run("delete purge and restore go to the home member", func(t *testing.T) {
		homed := addAsset(t, r, "homed")

		deleted, err := ec.DeleteEntity(ctx, user, memory.AssetGUID, "", homed.GUID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusDeleted, deleted.Status)

		restored, err := ec.RestoreEntity(ctx, user, homed.GUID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusActive, restored.Status)

		_, err = ec.DeleteEntity(ctx, user, memory.AssetGUID, "", homed.GUID)
		require.NoError(t, err)
		require.NoError(t, ec.PurgeEntity(ctx, user, memory.AssetGUID, "", homed.GUID))

		_, err = r.GetEntityDetail(ctx, user, homed.GUID)
		assert.Equal(t, repository.KindEntityNotKnown, repository.KindOf(err))
		_, err = l.GetEntityDetail(ctx, user, homed.GUID)
		assert.Equal(t, repository.KindEntityNotKnown, repository.KindOf(err))
	})

	t.Run("update properties on home", func(t *testing.T) {
		homed := addAsset(t, r, "props")
		updated, err := ec.UpdateEntityProperties(ctx, user, homed.GUID, types.InstanceProperties{"name": "renamed"})
		require.NoError(t, err)
		assert.Equal(t, "renamed", updated.Properties["name"])
		assert.Equal(t, int64(2), updated.Version)

		undone, err := ec.UndoEntityUpdate(ctx, user, homed.GUID)
		require.NoError(t, err)
		assert.Equal(t, "props", undone.Properties["name"])
	})
}

func TestAddEntityFallsThroughRefusingMembers(t *testing.T) {
	refusing := newFailing("cohort-l", repository.Errorf(repository.KindTypeDefNotKnown, "AddEntity", "unknown type"))
	r := newMember(t, "cohort-r")
	ec := newCohort(t, nil, local("cohort-l", refusing), remote("cohort-r", r))

	created := addAsset(t, ec, "fallthrough")
	assert.Equal(t, "cohort-r", created.HomeMetadataCollectionID)
}

func TestMutationWithoutRegisteredHome(t *testing.T) {
	ctx := context.Background()
	audit := NewAuditLog(nil)
	l := newMember(t, "cohort-l")
	require.NoError(t, l.AddEntityProxy(ctx, user, &types.EntityProxy{EntitySummary: types.EntitySummary{
		InstanceHeader: types.InstanceHeader{
			GUID:                     "ghost",
			Type:                     types.InstanceType{TypeDefGUID: memory.AssetGUID, TypeDefName: "Asset", TypeDefCategory: types.CategoryEntityDef},
			HomeMetadataCollectionID: "cohort-x",
			Status:                   types.StatusActive,
			Version:                  1,
		},
	}}))
	ec := newCohort(t, audit, local("cohort-l", l))

	_, err := ec.UpdateEntityProperties(ctx, user, "ghost", types.InstanceProperties{"name": "x"})
	assert.Equal(t, repository.KindNoHome, repository.KindOf(err))
	assert.Contains(t, err.Error(), "cohort-x")
	assert.Equal(t, 1, audit.Count(AuditNoHome))
}

func TestEntityDetailAsOfRetries(t *testing.T) {
	ctx := context.Background()

	t.Run("gives up after four retries", func(t *testing.T) {
		audit := NewAuditLog(nil)
		metrics := NewMetrics(prometheus.NewRegistry())
		flaky := &hookedCollection{Repository: newMember(t, "cohort-a")}
		ec := NewEnterpriseCollection("enterprise", WithAuditor(audit), WithMetrics(metrics))
		ec.SetLocalConnector("cohort-a", flaky)

		_, err := ec.GetEntityDetailAsOf(ctx, user, "missing", time.Now())
		assert.Equal(t, repository.KindEntityNotKnown, repository.KindOf(err))
		assert.Equal(t, int32(DefaultAsOfRetries+1), flaky.asOfCalls.Load())
		assert.Equal(t, DefaultAsOfRetries, audit.Count(AuditAsOfRetry))
		assert.Equal(t, float64(DefaultAsOfRetries), testutil.ToFloat64(metrics.AsOfRetries))
	})

	t.Run("sees a member that joins between attempts", func(t *testing.T) {
		audit := NewAuditLog(nil)
		home := newMember(t, "cohort-r")
		late := addAsset(t, home, "late")
		asOf := time.Now()

		flaky := &hookedCollection{Repository: newMember(t, "cohort-a")}
		ec := NewEnterpriseCollection("enterprise", WithAuditor(audit))
		ec.SetLocalConnector("cohort-a", flaky)
		flaky.onAsOf = func(call int32) {
			if call == 2 {
				ec.AddRemoteConnector("cohort-r", home)
			}
		}

		detail, err := ec.GetEntityDetailAsOf(ctx, user, late.GUID, asOf)
		require.NoError(t, err)
		assert.Equal(t, late.GUID, detail.GUID)
		// The third attempt may end before the local member is consulted.
		assert.GreaterOrEqual(t, flaky.asOfCalls.Load(), int32(2))
		assert.Equal(t, 2, audit.Count(AuditAsOfRetry))
	})

	t.Run("no retries configured", func(t *testing.T) {
		flaky := &hookedCollection{Repository: newMember(t, "cohort-a")}
		ec := NewEnterpriseCollection("enterprise", WithAsOfRetries(0))
		ec.SetLocalConnector("cohort-a", flaky)

		_, err := ec.GetEntityDetailAsOf(ctx, user, "missing", time.Now())
		assert.Error(t, err)
		assert.Equal(t, int32(1), flaky.asOfCalls.Load())
	})

	t.Run("other failures are not retried", func(t *testing.T) {
		broken := newFailing("cohort-a", errors.New("connection refused"))
		ec := NewEnterpriseCollection("enterprise")
		ec.SetLocalConnector("cohort-a", broken)

		_, err := ec.GetEntityDetailAsOf(ctx, user, "missing", time.Now())
		assert.Equal(t, repository.KindRepositoryError, repository.KindOf(err))
	})

	t.Run("retry delay honours cancellation", func(t *testing.T) {
		flaky := &hookedCollection{Repository: newMember(t, "cohort-a")}
		ec := NewEnterpriseCollection("enterprise", WithRetryDelay(time.Hour))
		ec.SetLocalConnector("cohort-a", flaky)

		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := ec.GetEntityDetailAsOf(cctx, user, "missing", time.Now())
		assert.Equal(t, repository.KindRepositoryError, repository.KindOf(err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, int32(1), flaky.asOfCalls.Load())
	})
}

func TestRemovalDuringRequest(t *testing.T) {
	ctx := context.Background()
	a := newMember(t, "cohort-a")
	b := newMember(t, "cohort-b")
	alpha := addAsset(t, a, "alpha")
	beta := addAsset(t, b, "beta")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	hb := &hookedCollection{Repository: b, beforeFind: func() {
		once.Do(func() { close(entered) })
		<-release
	}}
	cb := &countingConnector{Connector: hb}
	ec := newCohort(t, nil, local("cohort-a", a), remote("cohort-b", cb))

	type result struct {
		found []*types.EntityDetail
		err   error
	}
	done := make(chan result, 1)
	go func() {
		found, err := ec.FindEntities(ctx, user, assetQuery)
		done <- result{found, err}
	}()

	<-entered
	ec.RemoveRemoteConnector("cohort-b")
	close(release)

	inFlight := <-done
	require.NoError(t, inFlight.err)
	assert.ElementsMatch(t, []string{alpha.GUID, beta.GUID}, guids(inFlight.found))
	assert.Equal(t, int32(1), cb.disconnects.Load())

	before := cb.calls.Load()
	after, err := ec.FindEntities(ctx, user, assetQuery)
	require.NoError(t, err)
	assert.Equal(t, []string{alpha.GUID}, guids(after))
	assert.Equal(t, before, cb.calls.Load())
}

func TestUnsupportedOperationsNeverReachMembers(t *testing.T) {
	ctx := context.Background()
	audit := NewAuditLog(nil)
	counted := &countingConnector{Connector: newMember(t, "cohort-a")}
	ec := newCohort(t, audit, local("cohort-a", counted))
	entity := &types.EntityDetail{}
	rel := &types.Relationship{}

	calls := map[string]func() error{
		"AddTypeDefGallery": func() error { return ec.AddTypeDefGallery(ctx, user, memory.BaseTypes()) },
		"AddTypeDef":        func() error { return ec.AddTypeDef(ctx, user, &types.TypeDef{GUID: "g", Name: "n"}) },
		"AddAttributeTypeDef": func() error {
			return ec.AddAttributeTypeDef(ctx, user, &types.AttributeTypeDef{GUID: "g", Name: "n"})
		},
		"UpdateTypeDef": func() error {
			_, err := ec.UpdateTypeDef(ctx, user, &types.TypeDefPatch{})
			return err
		},
		"DeleteTypeDef":          func() error { return ec.DeleteTypeDef(ctx, user, "g", "n") },
		"DeleteAttributeTypeDef": func() error { return ec.DeleteAttributeTypeDef(ctx, user, "g", "n") },
		"ReIdentifyTypeDef": func() error {
			_, err := ec.ReIdentifyTypeDef(ctx, user, "g", "n", "g2", "n2")
			return err
		},
		"ReIdentifyAttributeTypeDef": func() error {
			_, err := ec.ReIdentifyAttributeTypeDef(ctx, user, "g", "n", "g2", "n2")
			return err
		},
		"ReIdentifyEntity": func() error {
			_, err := ec.ReIdentifyEntity(ctx, user, memory.AssetGUID, "Asset", "e", "e2")
			return err
		},
		"ReTypeEntity": func() error {
			_, err := ec.ReTypeEntity(ctx, user, "e", nil, nil)
			return err
		},
		"ReHomeEntity": func() error {
			_, err := ec.ReHomeEntity(ctx, user, "e", memory.AssetGUID, "Asset", "cohort-a", "cohort-b", "b")
			return err
		},
		"ReIdentifyRelationship": func() error {
			_, err := ec.ReIdentifyRelationship(ctx, user, memory.AssetLinkGUID, "AssetLink", "r", "r2")
			return err
		},
		"ReTypeRelationship": func() error {
			_, err := ec.ReTypeRelationship(ctx, user, "r", nil, nil)
			return err
		},
		"ReHomeRelationship": func() error {
			_, err := ec.ReHomeRelationship(ctx, user, "r", memory.AssetLinkGUID, "AssetLink", "cohort-a", "cohort-b", "b")
			return err
		},
		"SaveEntityReferenceCopy": func() error { return ec.SaveEntityReferenceCopy(ctx, user, entity) },
		"PurgeEntityReferenceCopy": func() error {
			return ec.PurgeEntityReferenceCopy(ctx, user, "e", memory.AssetGUID, "Asset", "cohort-b")
		},
		"RefreshEntityReferenceCopy": func() error {
			return ec.RefreshEntityReferenceCopy(ctx, user, "e", memory.AssetGUID, "Asset", "cohort-b")
		},
		"SaveRelationshipReferenceCopy": func() error { return ec.SaveRelationshipReferenceCopy(ctx, user, rel) },
		"PurgeRelationshipReferenceCopy": func() error {
			return ec.PurgeRelationshipReferenceCopy(ctx, user, "r", memory.AssetLinkGUID, "AssetLink", "cohort-b")
		},
		"RefreshRelationshipReferenceCopy": func() error {
			return ec.RefreshRelationshipReferenceCopy(ctx, user, "r", memory.AssetLinkGUID, "AssetLink", "cohort-b")
		},
		"SaveClassificationReferenceCopy": func() error {
			return ec.SaveClassificationReferenceCopy(ctx, user, entity, &types.Classification{Name: "Confidentiality"})
		},
		"PurgeClassificationReferenceCopy": func() error {
			return ec.PurgeClassificationReferenceCopy(ctx, user, entity, &types.Classification{Name: "Confidentiality"})
		},
		"SaveInstanceReferenceCopies": func() error {
			return ec.SaveInstanceReferenceCopies(ctx, user, &types.InstanceGraph{})
		},
	}

	for method, call := range calls {
		t.Run(method, func(t *testing.T) {
			err := call()
			require.Error(t, err)
			assert.Equal(t, repository.KindFunctionNotSupported, repository.KindOf(err))
			assert.Contains(t, err.Error(), method)
		})
	}
	assert.Equal(t, int32(0), counted.calls.Load())
	assert.Equal(t, len(calls), audit.Count(AuditNotSupported))
}

func TestClassificationRouting(t *testing.T) {
	ctx := context.Background()

	t.Run("home member is tried before the local member", func(t *testing.T) {
		l := newMember(t, "cohort-l")
		r := newMember(t, "cohort-r")
		target := addAsset(t, r, "remote-asset")
		ec := newCohort(t, nil, local("cohort-l", l), remote("cohort-r", r))

		classified, err := ec.ClassifyEntity(ctx, user, target.GUID, "Confidentiality", types.InstanceProperties{"level": 2})
		require.NoError(t, err)
		c := classified.Classification("Confidentiality")
		require.NotNil(t, c)
		assert.Equal(t, "cohort-r", c.HomeMetadataCollectionID)

		_, err = l.GetEntitySummary(ctx, user, target.GUID)
		assert.Equal(t, repository.KindEntityNotKnown, repository.KindOf(err))

		declassified, err := ec.DeclassifyEntity(ctx, user, target.GUID, "Confidentiality")
		require.NoError(t, err)
		assert.Nil(t, declassified.Classification("Confidentiality"))
	})

	t.Run("local member classifies a proxy when home refuses", func(t *testing.T) {
		l := newMember(t, "cohort-l")
		r := newMember(t, "cohort-r")
		target := addAsset(t, r, "refused")
		ec := newCohort(t, nil, local("cohort-l", l), remote("cohort-r", &noClassify{Repository: r}))

		classified, err := ec.ClassifyEntity(ctx, user, target.GUID, "Confidentiality", types.InstanceProperties{"level": 1})
		require.NoError(t, err)
		c := classified.Classification("Confidentiality")
		require.NotNil(t, c)
		assert.Equal(t, "cohort-l", c.HomeMetadataCollectionID)

		summary, err := l.GetEntitySummary(ctx, user, target.GUID)
		require.NoError(t, err)
		assert.Equal(t, "cohort-r", summary.HomeMetadataCollectionID)
		assert.NotNil(t, summary.Classification("Confidentiality"))
	})

	t.Run("classification errors stop the search", func(t *testing.T) {
		l := newMember(t, "cohort-l")
		r := newMember(t, "cohort-r")
		target := addAsset(t, r, "unknown-classification")
		ec := newCohort(t, nil, local("cohort-l", l), remote("cohort-r", r))

		_, err := ec.ClassifyEntity(ctx, user, target.GUID, "NoSuchClassification", nil)
		assert.Equal(t, repository.KindClassificationError, repository.KindOf(err))
		_, err = l.GetEntitySummary(ctx, user, target.GUID)
		assert.Equal(t, repository.KindEntityNotKnown, repository.KindOf(err))
	})
}

func TestRelationshipsForEntity(t *testing.T) {
	ctx := context.Background()
	l := newMember(t, "cohort-l")
	r := newMember(t, "cohort-r")
	ec := newCohort(t, nil, local("cohort-l", l), remote("cohort-r", r))
	lonely := addAsset(t, r, "lonely")

	t.Run("known entity without relationships", func(t *testing.T) {
		rels, err := ec.GetRelationshipsForEntity(ctx, user, lonely.GUID, types.RelationshipsForEntityQuery{})
		require.NoError(t, err)
		assert.Empty(t, rels)
	})

	t.Run("unknown entity", func(t *testing.T) {
		_, err := ec.GetRelationshipsForEntity(ctx, user, "missing", types.RelationshipsForEntityQuery{})
		assert.Equal(t, repository.KindEntityNotKnown, repository.KindOf(err))
	})

	t.Run("entity held only as a proxy", func(t *testing.T) {
		proxy := &types.EntityProxy{EntitySummary: lonely.EntitySummary}
		proxy.GUID = "proxied-elsewhere"
		require.NoError(t, l.AddEntityProxy(ctx, user, proxy))

		_, err := ec.GetRelationshipsForEntity(ctx, user, proxy.GUID, types.RelationshipsForEntityQuery{})
		assert.Equal(t, repository.KindEntityNotKnown, repository.KindOf(err))
	})

	t.Run("relationship across members", func(t *testing.T) {
		near := addAsset(t, l, "near")
		far := addAsset(t, r, "far")

		rel, err := ec.AddRelationship(ctx, user, types.NewRelationship{
			TypeGUID:   memory.AssetLinkGUID,
			End1GUID:   near.GUID,
			End2GUID:   far.GUID,
			Properties: types.InstanceProperties{"label": "feeds"},
		})
		require.NoError(t, err)
		assert.Equal(t, "cohort-l", rel.HomeMetadataCollectionID)
		assert.Equal(t, far.GUID, rel.End2.GUID)

		rels, err := ec.GetRelationshipsForEntity(ctx, user, far.GUID, types.RelationshipsForEntityQuery{})
		require.NoError(t, err)
		require.Len(t, rels, 1)
		assert.Equal(t, rel.GUID, rels[0].GUID)

		updated, err := ec.UpdateRelationshipProperties(ctx, user, rel.GUID, types.InstanceProperties{"label": "reads"})
		require.NoError(t, err)
		assert.Equal(t, "reads", updated.Properties["label"])

		history, err := ec.GetRelationshipHistory(ctx, user, rel.GUID, types.HistoryQuery{Order: types.HistoryBackwards})
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, int64(2), history[0].Version)

		graph, err := ec.GetEntityNeighborhood(ctx, user, near.GUID, types.NeighborhoodQuery{Level: 1})
		require.NoError(t, err)
		assert.Len(t, graph.Relationships, 1)
		assert.Len(t, graph.Entities, 2)

		related, err := ec.GetRelatedEntities(ctx, user, near.GUID, types.RelatedQuery{})
		require.NoError(t, err)
		assert.Equal(t, []string{far.GUID}, guids(related))

		_, err = ec.DeleteRelationship(ctx, user, memory.AssetLinkGUID, "", rel.GUID)
		require.NoError(t, err)
		require.NoError(t, ec.PurgeRelationship(ctx, user, memory.AssetLinkGUID, "", rel.GUID))
		_, err = ec.GetRelationship(ctx, user, rel.GUID)
		assert.Equal(t, repository.KindRelationshipNotKnown, repository.KindOf(err))
	})
}

func TestErrorPriority(t *testing.T) {
	ctx := context.Background()
	down := repository.Errorf(repository.KindRepositoryError, "FindEntities", "member is down")
	denied := repository.Errorf(repository.KindUserNotAuthorized, "FindEntities", "user %s may not search", user)

	t.Run("user not authorized beats repository errors", func(t *testing.T) {
		ec := newCohort(t, nil,
			local("cohort-a", newFailing("cohort-a", down)),
			remote("cohort-b", newFailing("cohort-b", down)),
			remote("cohort-c", newFailing("cohort-c", denied)))

		_, err := ec.FindEntities(ctx, user, assetQuery)
		assert.Equal(t, repository.KindUserNotAuthorized, repository.KindOf(err))
	})

	t.Run("results beat failures", func(t *testing.T) {
		healthy := newMember(t, "cohort-b")
		kept := addAsset(t, healthy, "kept")
		ec := newCohort(t, nil,
			local("cohort-a", newFailing("cohort-a", denied)),
			remote("cohort-b", healthy))

		found, err := ec.FindEntities(ctx, user, assetQuery)
		require.NoError(t, err)
		assert.Equal(t, []string{kept.GUID}, guids(found))
	})

	t.Run("foreign errors become repository errors", func(t *testing.T) {
		ec := newCohort(t, nil, local("cohort-a", newFailing("cohort-a", errors.New("broken pipe"))))

		_, err := ec.GetEntityDetail(ctx, user, "any")
		assert.Equal(t, repository.KindRepositoryError, repository.KindOf(err))
		assert.Contains(t, err.Error(), "cohort-a")
	})

	t.Run("not supported is tolerated on reads", func(t *testing.T) {
		ec := newCohort(t, nil, local("cohort-a", newFailing("cohort-a", repository.NotSupported("FindEntities", "cohort-a"))))

		found, err := ec.FindEntities(ctx, user, assetQuery)
		require.NoError(t, err)
		assert.Empty(t, found)
	})
}

func TestTypeQueries(t *testing.T) {
	ctx := context.Background()
	a := newMember(t, "cohort-a")
	b := memory.New("cohort-b")
	extra := &types.TypeDef{GUID: "c4b1e1a2-0000-4000-8000-000000000001", Name: "Glossary", Category: types.CategoryEntityDef, Version: 1}
	require.NoError(t, b.AddTypeDef(ctx, user, extra))
	ec := newCohort(t, nil, local("cohort-a", a), remote("cohort-b", b))

	gallery, err := ec.GetAllTypes(ctx, user)
	require.NoError(t, err)
	assert.Len(t, gallery.TypeDefs, 6)

	named, err := ec.FindTypesByName(ctx, user, "G.*")
	require.NoError(t, err)
	require.Len(t, named.TypeDefs, 1)
	assert.Equal(t, extra.GUID, named.TypeDefs[0].GUID)

	byCategory, err := ec.FindTypeDefsByCategory(ctx, user, types.CategoryClassificationDef)
	require.NoError(t, err)
	assert.Len(t, byCategory, 2)

	def, err := ec.GetTypeDefByName(ctx, user, "Glossary")
	require.NoError(t, err)
	assert.Equal(t, extra.GUID, def.GUID)

	_, err = ec.GetTypeDefByGUID(ctx, user, "missing")
	assert.Equal(t, repository.KindTypeDefNotKnown, repository.KindOf(err))

	t.Run("verify", func(t *testing.T) {
		ok, err := ec.VerifyTypeDef(ctx, user, extra)
		require.NoError(t, err)
		assert.True(t, ok)

		// The local member has never seen the type, so the search reaches cohort-b.
		ok, err = a.VerifyTypeDef(ctx, user, extra)
		require.NoError(t, err)
		require.False(t, ok)

		ok, err = ec.VerifyTypeDef(ctx, user, &types.TypeDef{GUID: "unknown", Name: "Unknown", Category: types.CategoryEntityDef, Version: 1})
		require.NoError(t, err)
		assert.False(t, ok)

		clash := *extra
		clash.Name = "NotAGlossary"
		_, err = ec.VerifyTypeDef(ctx, user, &clash)
		assert.Equal(t, repository.KindTypeDefConflict, repository.KindOf(err))
	})
}

func TestEntityHistoryMergesVersions(t *testing.T) {
	ctx := context.Background()
	a := newMember(t, "cohort-a")
	b := newMember(t, "cohort-b")
	ec := newCohort(t, nil, local("cohort-a", a), remote("cohort-b", b))

	e := addAsset(t, a, "versioned")
	_, err := ec.UpdateEntityProperties(ctx, user, e.GUID, types.InstanceProperties{"name": "v2"})
	require.NoError(t, err)
	latest, err := ec.GetEntityDetail(ctx, user, e.GUID)
	require.NoError(t, err)
	require.NoError(t, b.SaveEntityReferenceCopy(ctx, user, latest))

	history, err := ec.GetEntityDetailHistory(ctx, user, e.GUID, types.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(1), history[0].Version)
	assert.Equal(t, int64(2), history[1].Version)

	history, err = ec.GetEntityDetailHistory(ctx, user, e.GUID, types.HistoryQuery{Order: types.HistoryBackwards})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(2), history[0].Version)
}

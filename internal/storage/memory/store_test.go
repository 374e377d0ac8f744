package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore()
	store.SaveOrganization(&domain.Organization{ID: "org-1", Permalink: "acme"})
	store.SaveServer(&domain.Server{ID: "srv-1", OrganizationID: "org-1", Permalink: "mail"})
	now := time.Now()
	store.SaveDomain(&domain.MailDomain{
		ID: "dom-1", Name: "example.com", OwnerType: domain.DomainOwnerServer, OwnerID: "srv-1", VerifiedAt: &now,
	})
	return store
}

func newRoute(id, name, token string) *domain.Route {
	domainID := "dom-1"
	return &domain.Route{
		ID:       id,
		ServerID: "srv-1",
		DomainID: &domainID,
		Name:     name,
		SpamMode: domain.SpamModeMark,
		Mode:     domain.RouteModeAccept,
		Token:    token,
		MatchKey: domain.RouteMatchKey(name, "example.com", "srv-1"),
	}
}

func TestMemoryStore_RouteTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("提交后可读", func(t *testing.T) {
		store := seedStore(t)
		err := store.WithinTx(ctx, func(tx storage.RouteTx) error {
			return tx.SaveRoute(ctx, newRoute("r-1", "info", "tok00001"))
		})
		require.NoError(t, err)

		route, err := store.GetRoute(ctx, "r-1")
		require.NoError(t, err)
		assert.Equal(t, "info", route.Name)
		assert.False(t, route.CreatedAt.IsZero())

		found, err := store.FindRouteByNameAndDomain(ctx, "info", "EXAMPLE.com")
		require.NoError(t, err)
		assert.Equal(t, "r-1", found.ID)
	})

	t.Run("出错时回滚", func(t *testing.T) {
		store := seedStore(t)
		boom := errors.New("boom")
		err := store.WithinTx(ctx, func(tx storage.RouteTx) error {
			require.NoError(t, tx.SaveRoute(ctx, newRoute("r-1", "info", "tok00001")))
			require.NoError(t, tx.CreateSecondaryEndpoint(ctx, &domain.SecondaryEndpoint{
				ID: "se-1", RouteID: "r-1", EndpointKind: domain.EndpointKindHTTP, EndpointID: "h-1",
			}))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = store.GetRoute(ctx, "r-1")
		assert.ErrorIs(t, err, storage.ErrRouteNotFound)
		secondaries, err := store.ListSecondaryEndpoints(ctx, "r-1")
		require.NoError(t, err)
		assert.Empty(t, secondaries)
	})

	t.Run("匹配键唯一约束", func(t *testing.T) {
		store := seedStore(t)
		require.NoError(t, store.WithinTx(ctx, func(tx storage.RouteTx) error {
			return tx.SaveRoute(ctx, newRoute("r-1", "info", "tok00001"))
		}))

		err := store.WithinTx(ctx, func(tx storage.RouteTx) error {
			return tx.SaveRoute(ctx, newRoute("r-2", "info", "tok00002"))
		})
		assert.ErrorIs(t, err, storage.ErrDuplicateMatchKey)
	})

	t.Run("令牌唯一约束", func(t *testing.T) {
		store := seedStore(t)
		require.NoError(t, store.WithinTx(ctx, func(tx storage.RouteTx) error {
			return tx.SaveRoute(ctx, newRoute("r-1", "info", "tok00001"))
		}))

		err := store.WithinTx(ctx, func(tx storage.RouteTx) error {
			return tx.SaveRoute(ctx, newRoute("r-2", "sales", "tok00001"))
		})
		assert.ErrorIs(t, err, storage.ErrDuplicateToken)
	})

	t.Run("事务内冲突查询排除自身", func(t *testing.T) {
		store := seedStore(t)
		require.NoError(t, store.WithinTx(ctx, func(tx storage.RouteTx) error {
			return tx.SaveRoute(ctx, newRoute("r-1", "info", "tok00001"))
		}))

		err := store.WithinTx(ctx, func(tx storage.RouteTx) error {
			conflict, err := tx.FindConflictingRoute(ctx, "info", "example.com", "r-1")
			require.NoError(t, err)
			assert.Nil(t, conflict)

			conflict, err = tx.FindConflictingRoute(ctx, "info", "example.com", "r-other")
			require.NoError(t, err)
			require.NotNil(t, conflict)
			assert.Equal(t, "r-1", conflict.ID)
			return nil
		})
		require.NoError(t, err)
	})
}

func TestMemoryStore_SecondaryEndpoints(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)

	require.NoError(t, store.WithinTx(ctx, func(tx storage.RouteTx) error {
		if err := tx.SaveRoute(ctx, newRoute("r-1", "info", "tok00001")); err != nil {
			return err
		}
		for _, id := range []string{"se-1", "se-2", "se-3"} {
			if err := tx.CreateSecondaryEndpoint(ctx, &domain.SecondaryEndpoint{
				ID: id, RouteID: "r-1", EndpointKind: domain.EndpointKindAddress, EndpointID: "a-" + id,
			}); err != nil {
				return err
			}
		}
		return nil
	}))

	t.Run("只删除未保留的目标", func(t *testing.T) {
		var deleted int
		require.NoError(t, store.WithinTx(ctx, func(tx storage.RouteTx) error {
			var err error
			deleted, err = tx.DeleteSecondaryEndpointsExcept(ctx, "r-1", []string{"se-1", "se-3"})
			return err
		}))
		assert.Equal(t, 1, deleted)

		list, err := store.ListSecondaryEndpoints(ctx, "r-1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		ids := []string{list[0].ID, list[1].ID}
		assert.ElementsMatch(t, []string{"se-1", "se-3"}, ids)
	})

	t.Run("删除路由级联删除附加目标", func(t *testing.T) {
		require.NoError(t, store.WithinTx(ctx, func(tx storage.RouteTx) error {
			return tx.DeleteRoute(ctx, "r-1")
		}))

		list, err := store.ListSecondaryEndpoints(ctx, "r-1")
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestMemoryStore_ReturnPathPerServer(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)

	rp := &domain.Route{
		ID: "rp-1", ServerID: "srv-1", Name: domain.ReturnPathName, SpamMode: domain.SpamModeMark,
		Mode: domain.RouteModeEndpoint, EndpointKind: domain.EndpointKindHTTP, EndpointID: "h-1",
		Token: "tok00009", MatchKey: domain.RouteMatchKey(domain.ReturnPathName, "", "srv-1"),
	}
	require.NoError(t, store.WithinTx(ctx, func(tx storage.RouteTx) error {
		return tx.SaveRoute(ctx, rp)
	}))

	require.NoError(t, store.WithinTx(ctx, func(tx storage.RouteTx) error {
		exists, err := tx.ReturnPathRouteExists(ctx, "srv-1", "")
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = tx.ReturnPathRouteExists(ctx, "srv-1", "rp-1")
		require.NoError(t, err)
		assert.False(t, exists)

		exists, err = tx.ReturnPathRouteExists(ctx, "srv-2", "")
		require.NoError(t, err)
		assert.False(t, exists)
		return nil
	}))
}

func TestMemoryStore_Directory(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	now := time.Now()
	store.SaveDomain(&domain.MailDomain{
		ID: "dom-org", Name: "acme.io", OwnerType: domain.DomainOwnerOrganization, OwnerID: "org-1", VerifiedAt: &now,
	})
	store.SaveEndpoint(&domain.HTTPEndpoint{ID: "h-2", ServerID: "srv-1", URL: "https://b", CreatedAt: now.Add(time.Second)})
	store.SaveEndpoint(&domain.HTTPEndpoint{ID: "h-1", ServerID: "srv-1", URL: "https://a", CreatedAt: now})
	store.SaveEndpoint(&domain.HTTPEndpoint{ID: "h-3", ServerID: "srv-2", URL: "https://c", CreatedAt: now})

	t.Run("服务器带组织标识", func(t *testing.T) {
		server, err := store.GetServer(ctx, "srv-1")
		require.NoError(t, err)
		assert.Equal(t, "acme/mail", server.FullPermalink())

		_, err = store.GetServer(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrServerNotFound)
	})

	t.Run("组织域名对服务器可见", func(t *testing.T) {
		server, err := store.GetServer(ctx, "srv-1")
		require.NoError(t, err)
		d, err := store.FindDomainForServer(ctx, server, "ACME.io")
		require.NoError(t, err)
		assert.Equal(t, "dom-org", d.ID)
	})

	t.Run("按创建时间列出目标", func(t *testing.T) {
		list, err := store.ListEndpoints(ctx, "srv-1", domain.EndpointKindHTTP)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "h-1", list[0].Ref().ID)
		assert.Equal(t, "h-2", list[1].Ref().ID)
	})
}

func TestMessageStore(t *testing.T) {
	ctx := context.Background()
	messages := NewMessageStore(18)

	db, err := messages.MessageDB(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, 18, db.SchemaVersion())

	msg := db.NewMessage()
	assert.Equal(t, domain.MessageScopeIncoming, msg.Scope)
	require.NoError(t, db.InsertMessage(ctx, msg))
	assert.NotEmpty(t, msg.ID)
	assert.Len(t, msg.Token, domain.RouteTokenLength)

	err = db.InsertDelivery(ctx, &domain.Delivery{MessageID: "missing"})
	assert.ErrorIs(t, err, storage.ErrMessageNotFound)

	require.NoError(t, db.InsertDelivery(ctx, &domain.Delivery{MessageID: msg.ID, Status: domain.DeliveryStatusSent}))
	deliveries, err := db.ListDeliveries(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, domain.DeliveryStatusSent, deliveries[0].Status)
}

func TestStatisticsStore(t *testing.T) {
	ctx := context.Background()
	stats := NewStatisticsStore()
	ts := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

	require.NoError(t, stats.IncrementBucket(ctx, "srv-1", ts, domain.CounterHeld))
	require.NoError(t, stats.IncrementBucket(ctx, "srv-1", ts.Add(10*time.Minute), domain.CounterHeld))

	assert.Equal(t, int64(2), stats.Get("srv-1", domain.IntervalHourly, ts, domain.CounterHeld))
	assert.Equal(t, int64(2), stats.Get("srv-1", domain.IntervalYearly, ts, domain.CounterHeld))
	assert.Equal(t, int64(0), stats.Get("srv-1", domain.IntervalHourly, ts, domain.CounterBounces))
	assert.Equal(t, int64(0), stats.Get("srv-1", domain.IntervalHourly, ts.Add(time.Hour), domain.CounterHeld))
}

package memory

import (
	"context"
	"fmt"
	"testing"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/storage"
)

func BenchmarkMemoryStore_SaveRoute(b *testing.B) {
	ctx := context.Background()
	store := NewStore()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		name := fmt.Sprintf("user%d", i)
		route := &domain.Route{
			ID:       fmt.Sprintf("route-%d", i),
			ServerID: "srv-1",
			Name:     name,
			Mode:     domain.RouteModeAccept,
			Token:    fmt.Sprintf("t%07d", i),
			MatchKey: domain.RouteMatchKey(name, "example.com", "srv-1"),
		}
		_ = store.WithinTx(ctx, func(tx storage.RouteTx) error {
			return tx.SaveRoute(ctx, route)
		})
	}
}

func BenchmarkMemoryStore_FindRouteByNameAndDomain(b *testing.B) {
	ctx := context.Background()
	store := NewStore()
	store.SaveDomain(&domain.MailDomain{ID: "dom-1", Name: "example.com", OwnerType: domain.DomainOwnerServer, OwnerID: "srv-1"})
	domainID := "dom-1"

	// 预置数据
	_ = store.WithinTx(ctx, func(tx storage.RouteTx) error {
		for i := 0; i < 1000; i++ {
			name := fmt.Sprintf("user%d", i)
			if err := tx.SaveRoute(ctx, &domain.Route{
				ID:       fmt.Sprintf("route-%d", i),
				ServerID: "srv-1",
				DomainID: &domainID,
				Name:     name,
				Mode:     domain.RouteModeAccept,
				Token:    fmt.Sprintf("t%07d", i),
				MatchKey: domain.RouteMatchKey(name, "example.com", "srv-1"),
			}); err != nil {
				return err
			}
		}
		return nil
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.FindRouteByNameAndDomain(ctx, fmt.Sprintf("user%d", i%1000), "example.com")
	}
}

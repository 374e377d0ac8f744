package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/storage/memory"
)

const (
	testRouteDomain = "routes.test"
	serverA         = "srv-1"
	serverB         = "srv-2"
)

// seedDirectory 两个服务器同属一个组织：
//
//	srv-1 (acme/mail)  : example.com（已验证）、pending.com（未验证）、h-1 / s-1 / a-1
//	srv-2 (acme/relay) : foreign.com（已验证）、h-2
//	org-1              : shared.com（已验证，组织级）
func seedDirectory(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	now := time.Now()

	store.SaveOrganization(&domain.Organization{ID: "org-1", Permalink: "acme"})
	store.SaveServer(&domain.Server{ID: serverA, OrganizationID: "org-1", Permalink: "mail"})
	store.SaveServer(&domain.Server{ID: serverB, OrganizationID: "org-1", Permalink: "relay"})

	store.SaveDomain(&domain.MailDomain{ID: "dom-1", Name: "example.com", OwnerType: domain.DomainOwnerServer, OwnerID: serverA, VerifiedAt: &now})
	store.SaveDomain(&domain.MailDomain{ID: "dom-pending", Name: "pending.com", OwnerType: domain.DomainOwnerServer, OwnerID: serverA})
	store.SaveDomain(&domain.MailDomain{ID: "dom-foreign", Name: "foreign.com", OwnerType: domain.DomainOwnerServer, OwnerID: serverB, VerifiedAt: &now})
	store.SaveDomain(&domain.MailDomain{ID: "dom-org", Name: "shared.com", OwnerType: domain.DomainOwnerOrganization, OwnerID: "org-1", VerifiedAt: &now})

	store.SaveEndpoint(&domain.HTTPEndpoint{ID: "h-1", ServerID: serverA, URL: "https://hooks.example.com/in"})
	store.SaveEndpoint(&domain.SMTPEndpoint{ID: "s-1", ServerID: serverA, Hostname: "mx.example.com", Port: 25})
	store.SaveEndpoint(&domain.AddressEndpoint{ID: "a-1", ServerID: serverA, Address: "team@elsewhere.com"})
	store.SaveEndpoint(&domain.HTTPEndpoint{ID: "h-2", ServerID: serverB, URL: "https://relay.example.com/in"})
	return store
}

func strPtr(s string) *string { return &s }

// endpointInput 指向 example.com 的 Endpoint 路由输入
func endpointInput(name string, additional ...string) SaveRouteInput {
	return SaveRouteInput{
		ServerID:            serverA,
		Name:                name,
		DomainID:            strPtr("dom-1"),
		SpamMode:            domain.SpamModeMark,
		Endpoint:            "HTTPEndpoint#h-1",
		AdditionalEndpoints: additional,
	}
}

func secondaryRefs(t *testing.T, store *memory.Store, routeID string) []string {
	t.Helper()
	list, err := store.ListSecondaryEndpoints(context.Background(), routeID)
	require.NoError(t, err)
	refs := make([]string, 0, len(list))
	for _, se := range list {
		refs = append(refs, se.Ref().String())
	}
	return refs
}

// MockStatisticsStore 模拟统计存储
type MockStatisticsStore struct {
	mock.Mock
}

func (m *MockStatisticsStore) IncrementBucket(ctx context.Context, serverID string, ts time.Time, counter string) error {
	args := m.Called(ctx, serverID, ts, counter)
	return args.Error(0)
}

// MockNotificationTransport 模拟通知传输层
type MockNotificationTransport struct {
	mock.Mock
}

func (m *MockNotificationTransport) Dispatch(ctx context.Context, serverID string, kind domain.NotificationKind, payload interface{}) error {
	args := m.Called(ctx, serverID, kind, payload)
	return args.Error(0)
}

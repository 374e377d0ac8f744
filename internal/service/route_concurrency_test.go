package service

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroute/backend/internal/domain"
)

func TestRouteService_ConcurrentSave(t *testing.T) {
	ctx := context.Background()

	t.Run("跨服务器并发创建同名路由只有一个成功", func(t *testing.T) {
		svc, store := newRouteService(t)

		const perServer = 8
		inputs := make([]SaveRouteInput, 0, perServer*2)
		for i := 0; i < perServer; i++ {
			a := endpointInput("sales")
			a.DomainID = strPtr("dom-org")
			inputs = append(inputs, a, SaveRouteInput{
				ServerID: serverB,
				Name:     "sales",
				DomainID: strPtr("dom-org"),
				SpamMode: domain.SpamModeMark,
				Endpoint: "HTTPEndpoint#h-2",
			})
		}

		errs := make([]error, len(inputs))
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := range inputs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_, errs[i] = svc.Save(ctx, inputs[i])
			}(i)
		}
		close(start)
		wg.Wait()

		allowed := []string{
			"is configured on the acme/mail mail server",
			"is configured on the acme/relay mail server",
			"has already been taken",
		}
		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			verrs := validationErrors(t, err)
			require.Len(t, verrs.On("name"), 1)
			assert.Contains(t, allowed, verrs.On("name")[0])
		}
		assert.Equal(t, 1, succeeded)

		routesA, err := store.ListRoutes(ctx, serverA)
		require.NoError(t, err)
		routesB, err := store.ListRoutes(ctx, serverB)
		require.NoError(t, err)
		assert.Len(t, append(routesA, routesB...), 1)
	})

	t.Run("并发调整附加目标不产生重复", func(t *testing.T) {
		svc, store := newRouteService(t)
		res, err := svc.Save(ctx, endpointInput("info", "SMTPEndpoint#s-1"))
		require.NoError(t, err)

		lists := [][]string{
			{"SMTPEndpoint#s-1", "AddressEndpoint#a-1"},
			{"AddressEndpoint#a-1", "HTTPEndpoint#h-1"},
			{"SMTPEndpoint#s-1"},
			{"HTTPEndpoint#h-1", "SMTPEndpoint#s-1", "AddressEndpoint#a-1"},
		}

		var wg sync.WaitGroup
		start := make(chan struct{})
		errs := make([]error, 16)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				input := endpointInput("info", lists[i%len(lists)]...)
				input.ID = res.Route.ID
				<-start
				_, errs[i] = svc.Save(ctx, input)
			}(i)
		}
		close(start)
		wg.Wait()

		for _, err := range errs {
			require.NoError(t, err)
		}

		refs := secondaryRefs(t, store, res.Route.ID)
		seen := make(map[string]bool, len(refs))
		for _, ref := range refs {
			assert.False(t, seen[ref], "duplicate secondary endpoint %s", ref)
			seen[ref] = true
		}

		// 最终结果等于某一次提交的列表
		sort.Strings(refs)
		matched := false
		for _, list := range lists {
			want := append([]string(nil), list...)
			sort.Strings(want)
			if assert.ObjectsAreEqual(want, refs) {
				matched = true
				break
			}
		}
		assert.True(t, matched, "final secondaries %v match no submitted list", refs)
	})
}

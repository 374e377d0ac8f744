package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/storage"
	"mailroute/backend/internal/storage/memory"
)

func newRouteService(t *testing.T) (*RouteService, *memory.Store) {
	t.Helper()
	store := seedDirectory(t)
	return NewRouteService(store, testRouteDomain, nil, nil), store
}

func validationErrors(t *testing.T, err error) domain.ValidationErrors {
	t.Helper()
	require.Error(t, err)
	var verrs domain.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	return verrs
}

func TestRouteService_Save(t *testing.T) {
	ctx := context.Background()

	t.Run("创建 Endpoint 路由并附加目标", func(t *testing.T) {
		svc, store := newRouteService(t)

		res, err := svc.Save(ctx, endpointInput("info", "SMTPEndpoint#s-1", "AddressEndpoint#a-1"))
		require.NoError(t, err)
		require.NotNil(t, res.Reconcile)
		assert.Equal(t, ReconcileResult{Created: 2}, *res.Reconcile)

		route := res.Route
		assert.Equal(t, domain.RouteModeEndpoint, route.Mode)
		assert.Equal(t, domain.EndpointKindHTTP, route.EndpointKind)
		assert.Equal(t, "h-1", route.EndpointID)
		assert.Len(t, route.Token, domain.RouteTokenLength)
		assert.Equal(t, "info@example.com", route.MatchKey)
		assert.Equal(t, []string{"SMTPEndpoint#s-1", "AddressEndpoint#a-1"}, secondaryRefs(t, store, route.ID))
	})

	t.Run("空垃圾处理方式默认为 Mark", func(t *testing.T) {
		svc, _ := newRouteService(t)
		input := endpointInput("info")
		input.SpamMode = ""

		res, err := svc.Save(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, domain.SpamModeMark, res.Route.SpamMode)
	})

	t.Run("未选择处置方式", func(t *testing.T) {
		svc, _ := newRouteService(t)
		input := endpointInput("info")
		input.Endpoint = ""

		verrs := validationErrors(t, mustFail(svc.Save(ctx, input)))
		assert.Contains(t, verrs.On("endpoint"), domain.MsgMustBeChosen)
	})

	t.Run("未知处置方式", func(t *testing.T) {
		svc, _ := newRouteService(t)
		input := endpointInput("info")
		input.Endpoint = "Teleport"

		verrs := validationErrors(t, mustFail(svc.Save(ctx, input)))
		assert.Contains(t, verrs.On("mode"), domain.MsgNotIncluded)
	})

	t.Run("收集全部错误", func(t *testing.T) {
		svc, _ := newRouteService(t)
		input := SaveRouteInput{ServerID: serverA, Name: "Bad Name", SpamMode: "Never"}

		verrs := validationErrors(t, mustFail(svc.Save(ctx, input)))
		assert.Contains(t, verrs.On("name"), domain.MsgInvalid)
		assert.Contains(t, verrs.On("spam_mode"), domain.MsgNotIncluded)
		assert.Contains(t, verrs.On("endpoint"), domain.MsgMustBeChosen)
		assert.Contains(t, verrs.On("domain_id"), domain.MsgBlank)
	})

	t.Run("目标不存在或属于其他服务器", func(t *testing.T) {
		svc, _ := newRouteService(t)

		input := endpointInput("info")
		input.Endpoint = "HTTPEndpoint#missing"
		verrs := validationErrors(t, mustFail(svc.Save(ctx, input)))
		assert.Contains(t, verrs.On("endpoint"), domain.MsgBlank)

		input.Endpoint = "HTTPEndpoint#h-2"
		verrs = validationErrors(t, mustFail(svc.Save(ctx, input)))
		assert.Contains(t, verrs.On("endpoint"), domain.MsgInvalid)
	})

	t.Run("域名归属与验证", func(t *testing.T) {
		svc, _ := newRouteService(t)

		input := endpointInput("info")
		input.DomainID = strPtr("dom-pending")
		verrs := validationErrors(t, mustFail(svc.Save(ctx, input)))
		assert.Contains(t, verrs.On("domain"), domain.MsgDomainNotVerified)

		input.DomainID = strPtr("dom-foreign")
		verrs = validationErrors(t, mustFail(svc.Save(ctx, input)))
		assert.Contains(t, verrs.On("domain"), domain.MsgInvalid)

		input.DomainID = strPtr("dom-org")
		_, err := svc.Save(ctx, input)
		assert.NoError(t, err)
	})

	t.Run("名称冲突提示占用的服务器", func(t *testing.T) {
		svc, _ := newRouteService(t)

		first := endpointInput("sales")
		first.DomainID = strPtr("dom-org")
		_, err := svc.Save(ctx, first)
		require.NoError(t, err)

		second := SaveRouteInput{
			ServerID: serverB,
			Name:     "sales",
			DomainID: strPtr("dom-org"),
			SpamMode: domain.SpamModeMark,
			Endpoint: "HTTPEndpoint#h-2",
		}
		verrs := validationErrors(t, mustFail(svc.Save(ctx, second)))
		assert.Equal(t, []string{"is configured on the acme/mail mail server"}, verrs.On("name"))

		// 同一服务器上的重复同样报错
		verrs = validationErrors(t, mustFail(svc.Save(ctx, first)))
		assert.Equal(t, []string{"is configured on the acme/mail mail server"}, verrs.On("name"))
	})

	t.Run("更新自身不算冲突", func(t *testing.T) {
		svc, _ := newRouteService(t)
		res, err := svc.Save(ctx, endpointInput("info"))
		require.NoError(t, err)

		input := endpointInput("info")
		input.ID = res.Route.ID
		input.SpamMode = domain.SpamModeQuarantine
		updated, err := svc.Save(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, res.Route.Token, updated.Route.Token)
		assert.Equal(t, domain.SpamModeQuarantine, updated.Route.SpamMode)
	})

	t.Run("非 Endpoint 模式不允许附加目标", func(t *testing.T) {
		svc, _ := newRouteService(t)
		input := endpointInput("info", "SMTPEndpoint#s-1")
		input.Endpoint = string(domain.RouteModeAccept)

		verrs := validationErrors(t, mustFail(svc.Save(ctx, input)))
		assert.Contains(t, verrs.On(domain.FieldBase), domain.MsgAdditionalNotAllowed)
	})

	t.Run("无效引用不修改路由", func(t *testing.T) {
		svc, store := newRouteService(t)
		res, err := svc.Save(ctx, endpointInput("info"))
		require.NoError(t, err)

		input := endpointInput("renamed")
		input.ID = res.Route.ID
		input.Endpoint = "Widget#1"
		_, err = svc.Save(ctx, input)
		assert.ErrorIs(t, err, domain.ErrInvalidReference)

		stored, err := store.GetRoute(ctx, res.Route.ID)
		require.NoError(t, err)
		assert.Equal(t, "info", stored.Name)
		assert.Equal(t, "HTTPEndpoint#h-1", stored.EndpointValue())
	})

	t.Run("更新其他服务器的路由", func(t *testing.T) {
		svc, _ := newRouteService(t)
		res, err := svc.Save(ctx, endpointInput("info"))
		require.NoError(t, err)

		input := endpointInput("info")
		input.ID = res.Route.ID
		input.ServerID = serverB
		_, err = svc.Save(ctx, input)
		assert.ErrorIs(t, err, storage.ErrRouteNotFound)
	})

	t.Run("服务器不存在", func(t *testing.T) {
		svc, _ := newRouteService(t)
		input := endpointInput("info")
		input.ServerID = "nope"
		_, err := svc.Save(ctx, input)
		assert.ErrorIs(t, err, storage.ErrServerNotFound)
	})
}

func TestRouteService_ReturnPath(t *testing.T) {
	ctx := context.Background()
	returnPath := func(serverID, endpoint string) SaveRouteInput {
		return SaveRouteInput{
			ServerID: serverID,
			Name:     domain.ReturnPathName,
			SpamMode: domain.SpamModeMark,
			Endpoint: endpoint,
		}
	}

	t.Run("无需域名", func(t *testing.T) {
		svc, _ := newRouteService(t)
		res, err := svc.Save(ctx, returnPath(serverA, "HTTPEndpoint#h-1"))
		require.NoError(t, err)
		assert.Nil(t, res.Route.DomainID)
		assert.Equal(t, "__returnpath__@server:srv-1", res.Route.MatchKey)

		view, err := svc.Get(ctx, serverA, res.Route.ID)
		require.NoError(t, err)
		assert.Equal(t, "Return Path", view.Description)
	})

	t.Run("必须指向 HTTP 目标", func(t *testing.T) {
		svc, _ := newRouteService(t)
		verrs := validationErrors(t, mustFail(svc.Save(ctx, returnPath(serverA, "SMTPEndpoint#s-1"))))
		assert.Contains(t, verrs.On(domain.FieldBase), domain.MsgReturnPathHTTPOnly)

		verrs = validationErrors(t, mustFail(svc.Save(ctx, returnPath(serverA, "Hold"))))
		assert.Contains(t, verrs.On(domain.FieldBase), domain.MsgReturnPathHTTPOnly)
	})

	t.Run("每个服务器只有一条", func(t *testing.T) {
		svc, _ := newRouteService(t)
		_, err := svc.Save(ctx, returnPath(serverA, "HTTPEndpoint#h-1"))
		require.NoError(t, err)

		verrs := validationErrors(t, mustFail(svc.Save(ctx, returnPath(serverA, "HTTPEndpoint#h-1"))))
		assert.Contains(t, verrs.On(domain.FieldBase), domain.MsgReturnPathExists)

		_, err = svc.Save(ctx, returnPath(serverB, "HTTPEndpoint#h-2"))
		assert.NoError(t, err)
	})
}

func TestRouteService_Reconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("最小差异", func(t *testing.T) {
		svc, store := newRouteService(t)
		res, err := svc.Save(ctx, endpointInput("info", "SMTPEndpoint#s-1", "AddressEndpoint#a-1"))
		require.NoError(t, err)
		before, err := store.ListSecondaryEndpoints(ctx, res.Route.ID)
		require.NoError(t, err)

		input := endpointInput("info", "AddressEndpoint#a-1", "HTTPEndpoint#h-1")
		input.ID = res.Route.ID
		updated, err := svc.Save(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, ReconcileResult{Created: 1, Retained: 1, Deleted: 1}, *updated.Reconcile)

		after, err := store.ListSecondaryEndpoints(ctx, res.Route.ID)
		require.NoError(t, err)
		require.Len(t, after, 2)
		// 保留的记录 id 不变
		assert.Equal(t, before[1].ID, after[0].ID)
		assert.Equal(t, "HTTPEndpoint#h-1", after[1].Ref().String())
	})

	t.Run("重复提交幂等", func(t *testing.T) {
		svc, store := newRouteService(t)
		res, err := svc.Save(ctx, endpointInput("info", "SMTPEndpoint#s-1"))
		require.NoError(t, err)

		input := endpointInput("info", "SMTPEndpoint#s-1")
		input.ID = res.Route.ID
		again, err := svc.Save(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, ReconcileResult{Retained: 1}, *again.Reconcile)
		assert.Equal(t, []string{"SMTPEndpoint#s-1"}, secondaryRefs(t, store, res.Route.ID))
	})

	t.Run("列表内重复只建一条", func(t *testing.T) {
		svc, store := newRouteService(t)
		res, err := svc.Save(ctx, endpointInput("info", "SMTPEndpoint#s-1", "SMTPEndpoint#s-1", " "))
		require.NoError(t, err)
		assert.Equal(t, ReconcileResult{Created: 1}, *res.Reconcile)
		assert.Equal(t, []string{"SMTPEndpoint#s-1"}, secondaryRefs(t, store, res.Route.ID))
	})

	t.Run("未提供列表时保持不变", func(t *testing.T) {
		svc, store := newRouteService(t)
		res, err := svc.Save(ctx, endpointInput("info", "SMTPEndpoint#s-1"))
		require.NoError(t, err)

		input := endpointInput("info")
		input.ID = res.Route.ID
		input.AdditionalEndpoints = nil
		updated, err := svc.Save(ctx, input)
		require.NoError(t, err)
		assert.Nil(t, updated.Reconcile)
		assert.Equal(t, []string{"SMTPEndpoint#s-1"}, secondaryRefs(t, store, res.Route.ID))

		// 已有附加目标时切换为非 Endpoint 模式仍会被拒绝
		input.Endpoint = string(domain.RouteModeHold)
		verrs := validationErrors(t, mustFail(svc.Save(ctx, input)))
		assert.Contains(t, verrs.On(domain.FieldBase), domain.MsgAdditionalNotAllowed)
	})

	t.Run("空列表删除全部", func(t *testing.T) {
		svc, store := newRouteService(t)
		res, err := svc.Save(ctx, endpointInput("info", "SMTPEndpoint#s-1", "AddressEndpoint#a-1"))
		require.NoError(t, err)

		input := endpointInput("info")
		input.ID = res.Route.ID
		input.AdditionalEndpoints = []string{}
		updated, err := svc.Save(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, ReconcileResult{Deleted: 2}, *updated.Reconcile)
		assert.Empty(t, secondaryRefs(t, store, res.Route.ID))
	})

	t.Run("无效附加目标回滚整个提交", func(t *testing.T) {
		svc, store := newRouteService(t)
		res, err := svc.Save(ctx, endpointInput("info", "SMTPEndpoint#s-1"))
		require.NoError(t, err)

		input := endpointInput("renamed", "AddressEndpoint#a-1", "HTTPEndpoint#missing")
		input.ID = res.Route.ID
		_, err = svc.Save(ctx, input)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrRecordInvalid)

		var invalid *domain.RecordInvalidError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, []string{"endpoint can't be blank"}, invalid.Errors.On(domain.FieldBase))

		stored, err := store.GetRoute(ctx, res.Route.ID)
		require.NoError(t, err)
		assert.Equal(t, "info", stored.Name)
		assert.Equal(t, []string{"SMTPEndpoint#s-1"}, secondaryRefs(t, store, res.Route.ID))
	})

	t.Run("附加目标属于其他服务器", func(t *testing.T) {
		svc, _ := newRouteService(t)
		_, err := svc.Save(ctx, endpointInput("info", "HTTPEndpoint#h-2"))
		var invalid *domain.RecordInvalidError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, []string{"endpoint is invalid"}, invalid.Errors.On(domain.FieldBase))
	})

	t.Run("附加目标引用格式错误", func(t *testing.T) {
		svc, store := newRouteService(t)
		_, err := svc.Save(ctx, endpointInput("info", "Widget#1"))
		var invalid *domain.RecordInvalidError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, []string{"invalid endpoint class name 'Widget'"}, invalid.Errors.On(domain.FieldBase))

		routes, err := store.ListRoutes(ctx, serverA)
		require.NoError(t, err)
		assert.Empty(t, routes)
	})
}

func TestRouteService_Queries(t *testing.T) {
	ctx := context.Background()

	t.Run("列表按名称排序并展示", func(t *testing.T) {
		svc, _ := newRouteService(t)
		_, err := svc.Save(ctx, endpointInput("sales", "AddressEndpoint#a-1"))
		require.NoError(t, err)
		_, err = svc.Save(ctx, endpointInput("info"))
		require.NoError(t, err)

		views, err := svc.List(ctx, serverA)
		require.NoError(t, err)
		require.Len(t, views, 2)
		assert.Equal(t, "info", views[0].Name)
		assert.Equal(t, "sales", views[1].Name)

		v := views[1]
		assert.Equal(t, "sales@example.com", v.Description)
		assert.Equal(t, "example.com", v.DomainName)
		assert.Equal(t, "HTTPEndpoint#h-1", v.Endpoint)
		assert.Equal(t, []string{"AddressEndpoint#a-1"}, v.AdditionalEndpoints)
		assert.Equal(t, v.Token+"@"+testRouteDomain, v.ForwardAddress)
	})

	t.Run("其他服务器的路由不可见", func(t *testing.T) {
		svc, _ := newRouteService(t)
		res, err := svc.Save(ctx, endpointInput("info"))
		require.NoError(t, err)

		_, err = svc.Get(ctx, serverB, res.Route.ID)
		assert.ErrorIs(t, err, storage.ErrRouteNotFound)
		assert.ErrorIs(t, svc.Delete(ctx, serverB, res.Route.ID), storage.ErrRouteNotFound)
	})

	t.Run("删除同时删除附加目标", func(t *testing.T) {
		svc, store := newRouteService(t)
		res, err := svc.Save(ctx, endpointInput("info", "SMTPEndpoint#s-1"))
		require.NoError(t, err)

		require.NoError(t, svc.Delete(ctx, serverA, res.Route.ID))
		_, err = svc.Get(ctx, serverA, res.Route.ID)
		assert.ErrorIs(t, err, storage.ErrRouteNotFound)
		assert.Empty(t, secondaryRefs(t, store, res.Route.ID))
	})

	t.Run("精确匹配优先于通配", func(t *testing.T) {
		svc, _ := newRouteService(t)
		exact, err := svc.Save(ctx, endpointInput("info"))
		require.NoError(t, err)
		wildcard, err := svc.Save(ctx, endpointInput("*"))
		require.NoError(t, err)

		found, err := svc.LookupAddress(ctx, "Info@Example.com")
		require.NoError(t, err)
		assert.Equal(t, exact.Route.ID, found.ID)

		found, err = svc.Lookup(ctx, "anyone", "example.com")
		require.NoError(t, err)
		assert.Equal(t, wildcard.Route.ID, found.ID)

		_, err = svc.Lookup(ctx, "info", "nowhere.com")
		assert.ErrorIs(t, err, storage.ErrRouteNotFound)
		_, err = svc.LookupAddress(ctx, "not-an-address")
		assert.ErrorIs(t, err, storage.ErrRouteNotFound)
	})
}

func TestEndpointResolver(t *testing.T) {
	ctx := context.Background()
	resolver := NewEndpointResolver(seedDirectory(t))

	t.Run("解析三种目标", func(t *testing.T) {
		for _, ref := range []string{"HTTPEndpoint#h-1", "SMTPEndpoint#s-1", "AddressEndpoint#a-1"} {
			ep, err := resolver.ResolveString(ctx, ref)
			require.NoError(t, err)
			require.NotNil(t, ep)
			assert.Equal(t, ref, domain.FormatEndpoint(ep))
		}
	})

	t.Run("不存在或空 id 返回 nil", func(t *testing.T) {
		ep, err := resolver.ResolveString(ctx, "HTTPEndpoint#missing")
		assert.NoError(t, err)
		assert.Nil(t, ep)

		ep, err = resolver.ResolveString(ctx, "HTTPEndpoint#")
		assert.NoError(t, err)
		assert.Nil(t, ep)
	})

	t.Run("不跨服务器过滤", func(t *testing.T) {
		ep, err := resolver.ResolveString(ctx, "HTTPEndpoint#h-2")
		require.NoError(t, err)
		assert.Equal(t, serverB, ep.OwnerServerID())
	})

	t.Run("未知类型", func(t *testing.T) {
		_, err := resolver.ResolveString(ctx, "Widget#1")
		assert.ErrorIs(t, err, domain.ErrInvalidReference)
		_, err = resolver.Resolve(ctx, domain.EndpointRef{Kind: "Widget", ID: "1"})
		assert.ErrorIs(t, err, domain.ErrInvalidReference)
	})
}

// mustFail 丢弃结果，只保留错误
func mustFail(_ *SaveRouteResult, err error) error {
	return err
}

package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidRouteName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"普通名称", "info", true},
		{"包含点和短横线", "first.last-name", true},
		{"纯数字", "2024", true},
		{"通配符", "*", true},
		{"退信路由名", "__returnpath__", true},
		{"大写字母", "Info", false},
		{"包含空格", "info desk", false},
		{"包含加号", "user+tag", false},
		{"通配符带后缀", "*x", false},
		{"下划线开头", "_info", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidRouteName(tt.input))
		})
	}
}

func TestParseEndpointRef(t *testing.T) {
	t.Run("格式化后可解析回原值", func(t *testing.T) {
		for _, kind := range EndpointKinds() {
			ref := EndpointRef{Kind: kind, ID: "abc-123"}
			parsed, err := ParseEndpointRef(ref.String())
			require.NoError(t, err)
			assert.Equal(t, ref, parsed)
		}
	})

	t.Run("只按第一个井号拆分", func(t *testing.T) {
		ref, err := ParseEndpointRef("HTTPEndpoint#a#b")
		require.NoError(t, err)
		assert.Equal(t, "a#b", ref.ID)
	})

	t.Run("未知类型", func(t *testing.T) {
		_, err := ParseEndpointRef("Widget#1")
		assert.ErrorIs(t, err, ErrInvalidReference)
		assert.EqualError(t, err, "invalid endpoint class name 'Widget'")
	})

	t.Run("缺少分隔符", func(t *testing.T) {
		_, err := ParseEndpointRef("HTTPEndpoint")
		assert.ErrorIs(t, err, ErrInvalidReference)
	})
}

func TestRoute_AssignEndpoint(t *testing.T) {
	t.Run("引用设置为 Endpoint 模式", func(t *testing.T) {
		r := &Route{}
		require.NoError(t, r.AssignEndpoint("SMTPEndpoint#s-1"))
		assert.Equal(t, RouteModeEndpoint, r.Mode)
		assert.Equal(t, EndpointKindSMTP, r.EndpointKind)
		assert.Equal(t, "SMTPEndpoint#s-1", r.EndpointValue())
	})

	t.Run("处置方式字面值清除投递目标", func(t *testing.T) {
		r := &Route{}
		require.NoError(t, r.AssignEndpoint("HTTPEndpoint#h-1"))
		require.NoError(t, r.AssignEndpoint("Hold"))
		assert.Equal(t, RouteModeHold, r.Mode)
		assert.Empty(t, r.EndpointKind)
		assert.Empty(t, r.EndpointID)
		assert.Equal(t, "Hold", r.EndpointValue())
	})

	t.Run("空值清除模式", func(t *testing.T) {
		r := &Route{}
		require.NoError(t, r.AssignEndpoint("Accept"))
		require.NoError(t, r.AssignEndpoint("  "))
		assert.Equal(t, RouteMode(""), r.Mode)
		assert.Equal(t, "", r.EndpointValue())
	})

	t.Run("非法引用不修改路由", func(t *testing.T) {
		r := &Route{}
		require.NoError(t, r.AssignEndpoint("HTTPEndpoint#h-1"))
		err := r.AssignEndpoint("Widget#1")
		assert.ErrorIs(t, err, ErrInvalidReference)
		assert.Equal(t, "HTTPEndpoint#h-1", r.EndpointValue())
	})
}

func TestValidateRouteFields(t *testing.T) {
	domainID := "dom-1"
	valid := func() *Route {
		r := &Route{Name: "info", DomainID: &domainID, SpamMode: SpamModeMark}
		r.SetEndpointRef(EndpointRef{Kind: EndpointKindHTTP, ID: "h-1"})
		return r
	}

	t.Run("合法路由", func(t *testing.T) {
		assert.True(t, ValidateRouteFields(valid(), 2).Empty())
	})

	t.Run("必须选择模式", func(t *testing.T) {
		r := valid()
		require.NoError(t, r.AssignEndpoint(""))
		errs := ValidateRouteFields(r, 0)
		assert.Equal(t, []string{MsgMustBeChosen}, errs.On("endpoint"))
	})

	t.Run("退信路由不需要域名", func(t *testing.T) {
		r := valid()
		r.Name = ReturnPathName
		r.DomainID = nil
		assert.True(t, ValidateRouteFields(r, 0).Empty())
	})

	t.Run("退信路由必须使用 HTTP 目标", func(t *testing.T) {
		r := valid()
		r.Name = ReturnPathName
		r.SetEndpointRef(EndpointRef{Kind: EndpointKindAddress, ID: "a-1"})
		assert.Equal(t, []string{MsgReturnPathHTTPOnly}, ValidateRouteFields(r, 0).On(FieldBase))
	})

	t.Run("附加目标需要 Endpoint 模式", func(t *testing.T) {
		r := valid()
		require.NoError(t, r.AssignEndpoint("Bounce"))
		assert.Equal(t, []string{MsgAdditionalNotAllowed}, ValidateRouteFields(r, 1).On(FieldBase))
		assert.True(t, ValidateRouteFields(r, 0).Empty())
	})

	t.Run("收集全部错误", func(t *testing.T) {
		r := &Route{Name: "Not Valid", SpamMode: "Sometimes", Mode: "Teleport"}
		errs := ValidateRouteFields(r, 0)
		assert.Equal(t, []string{
			"name is invalid",
			"spam_mode is not included in the list",
			"mode is not included in the list",
			"domain_id can't be blank",
		}, errs.FullMessages())
		assert.True(t, errors.Is(errs, ErrValidationFailed))
	})
}

func TestRouteMatchKey(t *testing.T) {
	assert.Equal(t, "info@example.com", RouteMatchKey("Info", "Example.COM", "srv-1"))
	assert.Equal(t, "__returnpath__@server:srv-1", RouteMatchKey(ReturnPathName, "", "srv-1"))
	assert.NotEqual(t, RouteMatchKey(ReturnPathName, "", "srv-1"), RouteMatchKey(ReturnPathName, "", "srv-2"))
}

func TestGenerateRouteToken(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		token, err := GenerateRouteToken()
		require.NoError(t, err)
		assert.Regexp(t, `^[a-z0-9]{8}$`, token)
		seen[token] = struct{}{}
	}
	assert.Greater(t, len(seen), 195)
}

func TestSplitAddress(t *testing.T) {
	local, dom, ok := SplitAddress(" Info@Example.com ")
	assert.True(t, ok)
	assert.Equal(t, "info", local)
	assert.Equal(t, "example.com", dom)

	for _, bad := range []string{"", "info", "@example.com", "info@"} {
		_, _, ok := SplitAddress(bad)
		assert.False(t, ok, bad)
	}
}

func TestRecordInvalidError(t *testing.T) {
	var errs ValidationErrors
	errs.Add(FieldBase, "endpoint can't be blank")
	err := &RecordInvalidError{Errors: errs}

	assert.ErrorIs(t, err, ErrRecordInvalid)
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.EqualError(t, err, "record invalid: endpoint can't be blank")

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 1)
}

func TestDeliveryAttributes_Normalize(t *testing.T) {
	elapsed := 0.5
	attrs := DeliveryAttributes{
		Status: " Sent ",
		Output: "explicit",
		Extra: map[string]any{
			"Output":     "ignored",
			"time":       elapsed,
			"log_id":     "log-1",
			"message_id": "forged",
			"queue":      "default",
		},
	}.Normalize()

	assert.Equal(t, DeliveryStatusSent, attrs.Status)
	assert.Equal(t, "explicit", attrs.Output)
	require.NotNil(t, attrs.Time)
	assert.Equal(t, elapsed, *attrs.Time)
	assert.Equal(t, "log-1", attrs.LogID)
	assert.Equal(t, map[string]any{"queue": "default"}, attrs.Extra)

	assert.Nil(t, DeliveryAttributes{Extra: map[string]any{"id": "x"}}.Normalize().Extra)
}

func TestNotificationKindFor(t *testing.T) {
	tests := []struct {
		status DeliveryStatus
		kind   NotificationKind
		ok     bool
	}{
		{DeliveryStatusSent, NotificationMessageSent, true},
		{DeliveryStatusSoftFail, NotificationMessageDelayed, true},
		{DeliveryStatusHardFail, NotificationMessageDeliveryFailed, true},
		{DeliveryStatusHeld, NotificationMessageHeld, true},
		{DeliveryStatusBounced, "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			kind, ok := NotificationKindFor(tt.status)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestBucketKey(t *testing.T) {
	ts := time.Date(2024, 1, 2, 15, 45, 0, 0, time.FixedZone("EST", -5*3600))

	assert.Equal(t, "hourly:2024010220", BucketKey(IntervalHourly, ts))
	assert.Equal(t, "daily:20240102", BucketKey(IntervalDaily, ts))
	assert.Equal(t, "monthly:202401", BucketKey(IntervalMonthly, ts))
	assert.Equal(t, "yearly:2024", BucketKey(IntervalYearly, ts))
}

func TestWebhook_Subscribes(t *testing.T) {
	w := &Webhook{Enabled: true, Events: []string{"MessageHeld"}}
	assert.True(t, w.Subscribes(NotificationMessageHeld))
	assert.False(t, w.Subscribes(NotificationMessageSent))

	w.AllEvents = true
	assert.True(t, w.Subscribes(NotificationMessageSent))

	w.Enabled = false
	assert.False(t, w.Subscribes(NotificationMessageHeld))
}

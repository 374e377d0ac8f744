package domain

import (
	"crypto/rand"
	"strings"
	"time"
)

// SpamMode 垃圾邮件处理方式
type SpamMode string

const (
	SpamModeMark       SpamMode = "Mark"
	SpamModeQuarantine SpamMode = "Quarantine"
	SpamModeFail       SpamMode = "Fail"
)

// Valid 判断处理方式是否合法
func (m SpamMode) Valid() bool {
	switch m {
	case SpamModeMark, SpamModeQuarantine, SpamModeFail:
		return true
	}
	return false
}

// RouteMode 路由处置方式，空字符串表示尚未设置
type RouteMode string

const (
	RouteModeEndpoint RouteMode = "Endpoint"
	RouteModeAccept   RouteMode = "Accept"
	RouteModeHold     RouteMode = "Hold"
	RouteModeBounce   RouteMode = "Bounce"
	RouteModeReject   RouteMode = "Reject"
)

// Valid 判断处置方式是否合法（未设置视为不合法）
func (m RouteMode) Valid() bool {
	switch m {
	case RouteModeEndpoint, RouteModeAccept, RouteModeHold, RouteModeBounce, RouteModeReject:
		return true
	}
	return false
}

const (
	// ReturnPathName 退信路由的保留名称
	ReturnPathName = "__returnpath__"
	// WildcardName 通配路由名称
	WildcardName = "*"
	// RouteTokenLength 路由令牌长度
	RouteTokenLength = 8
)

// Route 路由表中的一行：名称 + 域名 -> 处置方式
type Route struct {
	ID           string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ServerID     string       `json:"serverId" gorm:"type:varchar(36);index;not null"`
	DomainID     *string      `json:"domainId" gorm:"type:varchar(36);index"`
	Name         string       `json:"name" gorm:"type:varchar(255);not null"`
	SpamMode     SpamMode     `json:"spamMode" gorm:"type:varchar(20)"`
	Mode         RouteMode    `json:"mode" gorm:"type:varchar(20)"`
	EndpointKind EndpointKind `json:"endpointType,omitempty" gorm:"type:varchar(32)"`
	EndpointID   string       `json:"endpointId,omitempty" gorm:"type:varchar(36)"`
	Token        string       `json:"token" gorm:"type:varchar(16);uniqueIndex;not null"`
	// MatchKey 全局唯一的匹配键，作为存储层唯一约束的兜底
	MatchKey  string    `json:"-" gorm:"type:varchar(512);uniqueIndex;not null"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsReturnPath 是否为退信路由
func (r *Route) IsReturnPath() bool {
	return r.Name == ReturnPathName
}

// IsWildcard 是否为通配路由
func (r *Route) IsWildcard() bool {
	return r.Name == WildcardName
}

// Description 返回路由的收件人描述
func (r *Route) Description(domainName string) string {
	if r.IsReturnPath() {
		return "Return Path"
	}
	return r.Name + "@" + domainName
}

// ForwardAddress 返回基于令牌的转发地址
func (r *Route) ForwardAddress(routeDomain string) string {
	return r.Token + "@" + routeDomain
}

// EndpointRef 返回主投递目标引用，仅在 Mode 为 Endpoint 时存在
func (r *Route) EndpointRef() (EndpointRef, bool) {
	if r.Mode != RouteModeEndpoint || r.EndpointKind == "" {
		return EndpointRef{}, false
	}
	return EndpointRef{Kind: r.EndpointKind, ID: r.EndpointID}, true
}

// SetEndpointRef 设置主投递目标并切换为 Endpoint 模式
func (r *Route) SetEndpointRef(ref EndpointRef) {
	r.Mode = RouteModeEndpoint
	r.EndpointKind = ref.Kind
	r.EndpointID = ref.ID
}

func (r *Route) clearEndpoint() {
	r.EndpointKind = ""
	r.EndpointID = ""
}

// AssignEndpoint 从外部字符串设置路由的有效投递目标。
//
//   - 空值：清除目标与模式，路由回到未设置状态
//   - 含 '#'：按引用解析，失败时返回错误且路由保持不变
//   - 其他：清除目标，模式设为该字面值
func (r *Route) AssignEndpoint(value string) error {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		r.clearEndpoint()
		r.Mode = ""
	case strings.Contains(value, "#"):
		ref, err := ParseEndpointRef(value)
		if err != nil {
			return err
		}
		r.SetEndpointRef(ref)
	default:
		r.clearEndpoint()
		r.Mode = RouteMode(value)
	}
	return nil
}

// EndpointValue 是 AssignEndpoint 的逆操作
func (r *Route) EndpointValue() string {
	if r.Mode == RouteModeEndpoint {
		if ref, ok := r.EndpointRef(); ok {
			return ref.String()
		}
		return ""
	}
	return string(r.Mode)
}

// RouteMatchKey 计算匹配键：普通路由为 name@domain，退信路由按服务器区分
func RouteMatchKey(name, domainName, serverID string) string {
	if name == ReturnPathName {
		return ReturnPathName + "@server:" + serverID
	}
	return strings.ToLower(name + "@" + domainName)
}

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// GenerateRouteToken 生成 8 位随机令牌
func GenerateRouteToken() (string, error) {
	// 丢弃 >= 252 的字节，避免取模偏差
	limit := byte(256 / len(tokenAlphabet) * len(tokenAlphabet))
	out := make([]byte, 0, RouteTokenLength)
	var b [1]byte
	for len(out) < RouteTokenLength {
		if _, err := rand.Read(b[:]); err != nil {
			return "", err
		}
		if b[0] >= limit {
			continue
		}
		out = append(out, tokenAlphabet[int(b[0])%len(tokenAlphabet)])
	}
	return string(out), nil
}

// SecondaryEndpoint 路由的附加投递目标，只能通过调和过程创建与删除
type SecondaryEndpoint struct {
	ID           string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	RouteID      string       `json:"routeId" gorm:"type:varchar(36);index;not null"`
	EndpointKind EndpointKind `json:"endpointType" gorm:"type:varchar(32);not null"`
	EndpointID   string       `json:"endpointId" gorm:"type:varchar(36);not null"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// Ref 返回引用
func (s *SecondaryEndpoint) Ref() EndpointRef {
	return EndpointRef{Kind: s.EndpointKind, ID: s.EndpointID}
}

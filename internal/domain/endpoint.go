package domain

import (
	"strings"
	"time"
)

// EndpointKind 投递目标类型（封闭集合）
type EndpointKind string

const (
	// EndpointKindSMTP SMTP 中继
	EndpointKindSMTP EndpointKind = "SMTPEndpoint"
	// EndpointKindHTTP HTTP 推送
	EndpointKindHTTP EndpointKind = "HTTPEndpoint"
	// EndpointKindAddress 直接转发到某个地址
	EndpointKindAddress EndpointKind = "AddressEndpoint"
)

// EndpointKinds 返回全部合法的投递目标类型
func EndpointKinds() []EndpointKind {
	return []EndpointKind{EndpointKindSMTP, EndpointKindHTTP, EndpointKindAddress}
}

// Valid 判断类型是否属于封闭集合
func (k EndpointKind) Valid() bool {
	switch k {
	case EndpointKindSMTP, EndpointKindHTTP, EndpointKindAddress:
		return true
	}
	return false
}

// EndpointRef 投递目标的类型化引用，序列化形式为 "<Kind>#<id>"
type EndpointRef struct {
	Kind EndpointKind `json:"kind"`
	ID   string       `json:"id"`
}

// ParseEndpointRef 解析 "<Kind>#<id>" 形式的引用。
//
// 只在第一个 '#' 处切分，剩余部分原样作为 id。
// 前缀不在封闭集合内时返回 *InvalidReferenceError。
func ParseEndpointRef(s string) (EndpointRef, error) {
	kind, id, ok := strings.Cut(s, "#")
	if !ok {
		return EndpointRef{}, &InvalidReferenceError{Value: s}
	}
	k := EndpointKind(kind)
	if !k.Valid() {
		return EndpointRef{}, &InvalidReferenceError{Value: s, Kind: kind}
	}
	return EndpointRef{Kind: k, ID: id}, nil
}

// String 返回序列化形式
func (r EndpointRef) String() string {
	return string(r.Kind) + "#" + r.ID
}

// IsZero 判断是否为空引用
func (r EndpointRef) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}

// Endpoint 投递目标。
// 实现仅限本包内的三种类型，isEndpoint 用于封闭该集合。
type Endpoint interface {
	Ref() EndpointRef
	OwnerServerID() string
	isEndpoint()
}

// FormatEndpoint 将投递目标格式化为引用字符串
func FormatEndpoint(e Endpoint) string {
	return e.Ref().String()
}

// SMTPEndpoint SMTP 中继目标
type SMTPEndpoint struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ServerID  string    `json:"serverId" gorm:"type:varchar(36);index;not null"`
	Name      string    `json:"name" gorm:"type:varchar(255)"`
	Hostname  string    `json:"hostname" gorm:"type:varchar(255);not null"`
	Port      int       `json:"port" gorm:"default:25"`
	SSLMode   string    `json:"sslMode" gorm:"type:varchar(20);default:'Auto'"`
	CreatedAt time.Time `json:"createdAt"`
}

// Ref 返回引用
func (e *SMTPEndpoint) Ref() EndpointRef { return EndpointRef{Kind: EndpointKindSMTP, ID: e.ID} }

// OwnerServerID 返回所属服务器
func (e *SMTPEndpoint) OwnerServerID() string { return e.ServerID }

func (*SMTPEndpoint) isEndpoint() {}

// HTTPEndpoint HTTP 推送目标
type HTTPEndpoint struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ServerID  string    `json:"serverId" gorm:"type:varchar(36);index;not null"`
	Name      string    `json:"name" gorm:"type:varchar(255)"`
	URL       string    `json:"url" gorm:"type:varchar(500);not null"`
	Encoding  string    `json:"encoding" gorm:"type:varchar(20);default:'BodyAsJSON'"`
	Format    string    `json:"format" gorm:"type:varchar(20);default:'Hash'"`
	CreatedAt time.Time `json:"createdAt"`
}

// Ref 返回引用
func (e *HTTPEndpoint) Ref() EndpointRef { return EndpointRef{Kind: EndpointKindHTTP, ID: e.ID} }

// OwnerServerID 返回所属服务器
func (e *HTTPEndpoint) OwnerServerID() string { return e.ServerID }

func (*HTTPEndpoint) isEndpoint() {}

// AddressEndpoint 地址转发目标
type AddressEndpoint struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ServerID  string    `json:"serverId" gorm:"type:varchar(36);index;not null"`
	Address   string    `json:"address" gorm:"type:varchar(255);index;not null"`
	CreatedAt time.Time `json:"createdAt"`
}

// Ref 返回引用
func (e *AddressEndpoint) Ref() EndpointRef { return EndpointRef{Kind: EndpointKindAddress, ID: e.ID} }

// OwnerServerID 返回所属服务器
func (e *AddressEndpoint) OwnerServerID() string { return e.ServerID }

func (*AddressEndpoint) isEndpoint() {}

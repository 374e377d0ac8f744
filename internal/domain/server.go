package domain

import "time"

// Organization 组织，服务器的上级
type Organization struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Permalink string    `json:"permalink" gorm:"type:varchar(100);uniqueIndex;not null"`
	Name      string    `json:"name" gorm:"type:varchar(255)"`
	CreatedAt time.Time `json:"createdAt"`
}

// Server 邮件服务器账户，拥有路由、投递目标和域名
type Server struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrganizationID string    `json:"organizationId" gorm:"type:varchar(36);index;not null"`
	Permalink      string    `json:"permalink" gorm:"type:varchar(100);not null"`
	Name           string    `json:"name" gorm:"type:varchar(255)"`
	CreatedAt      time.Time `json:"createdAt"`

	// 只读展示字段，由目录服务填充
	OrganizationPermalink string `json:"organizationPermalink,omitempty" gorm:"-"`
}

// FullPermalink 返回 "组织/服务器" 形式的标识
func (s *Server) FullPermalink() string {
	if s.OrganizationPermalink == "" {
		return s.Permalink
	}
	return s.OrganizationPermalink + "/" + s.Permalink
}

// DomainOwnerType 域名归属类型
type DomainOwnerType string

const (
	DomainOwnerServer       DomainOwnerType = "Server"
	DomainOwnerOrganization DomainOwnerType = "Organization"
)

// MailDomain 服务器或组织拥有的收信域名
type MailDomain struct {
	ID         string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name       string          `json:"name" gorm:"type:varchar(255);index;not null"`
	OwnerType  DomainOwnerType `json:"ownerType" gorm:"type:varchar(20);not null"`
	OwnerID    string          `json:"ownerId" gorm:"type:varchar(36);index;not null"`
	VerifiedAt *time.Time      `json:"verifiedAt"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Verified 域名是否已通过验证
func (d *MailDomain) Verified() bool {
	return d.VerifiedAt != nil
}

// OwnedBy 判断域名是否属于该服务器或其所属组织
func (d *MailDomain) OwnedBy(server *Server) bool {
	switch d.OwnerType {
	case DomainOwnerServer:
		return d.OwnerID == server.ID
	case DomainOwnerOrganization:
		return d.OwnerID == server.OrganizationID
	}
	return false
}

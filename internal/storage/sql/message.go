package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/storage"
)

// endpointStampingSchemaVersion 起消息表携带投递目标列
const endpointStampingSchemaVersion = 18

// MessageDB 单个服务器的消息库视图
type MessageDB struct {
	store    *MessageStore
	serverID string
}

// SchemaVersion 返回消息库结构版本
func (m *MessageDB) SchemaVersion() int {
	return m.store.schemaVersion
}

// NewMessage 构造未持久化的入站邮件
func (m *MessageDB) NewMessage() *domain.Message {
	return &domain.Message{
		ServerID: m.serverID,
		Scope:    domain.MessageScopeIncoming,
	}
}

// InsertMessage 保存邮件，补全 ID、令牌与创建时间
func (m *MessageDB) InsertMessage(ctx context.Context, message *domain.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.Token == "" {
		token, err := domain.GenerateRouteToken()
		if err != nil {
			return err
		}
		message.Token = token
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	message.ServerID = m.serverID

	columns := []string{
		"id", "server_id", "token", "scope", "rcpt_to", "mail_from", "domain_id", "route_id",
		"subject", "message_id", "spam_status", "tag", "raw", "created_at",
	}
	args := []interface{}{
		message.ID, message.ServerID, message.Token, message.Scope, message.RcptTo, message.MailFrom,
		nullString(message.DomainID), message.RouteID,
		message.Subject, message.MessageID, message.SpamStatus, message.Tag, message.Raw, message.CreatedAt,
	}
	if m.SchemaVersion() >= endpointStampingSchemaVersion {
		columns = append(columns, "endpoint_kind", "endpoint_id")
		args = append(args, string(message.EndpointKind), message.EndpointID)
	}

	query := fmt.Sprintf("INSERT INTO messages (%s) VALUES (%s)",
		strings.Join(columns, ", "), m.store.placeholders(len(columns)))
	if _, err := m.store.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage 获取邮件
func (m *MessageDB) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	query := fmt.Sprintf(`
		SELECT id, server_id, token, scope, rcpt_to, mail_from, domain_id, route_id,
		       endpoint_kind, endpoint_id, subject, message_id, spam_status, tag, raw, created_at
		FROM messages
		WHERE id = %s AND server_id = %s
	`, m.store.placeholder(1), m.store.placeholder(2))

	var message domain.Message
	var domainID, endpointKind, endpointID sql.NullString
	err := m.store.db.QueryRowContext(ctx, query, id, m.serverID).Scan(
		&message.ID,
		&message.ServerID,
		&message.Token,
		&message.Scope,
		&message.RcptTo,
		&message.MailFrom,
		&domainID,
		&message.RouteID,
		&endpointKind,
		&endpointID,
		&message.Subject,
		&message.MessageID,
		&message.SpamStatus,
		&message.Tag,
		&message.Raw,
		&message.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrMessageNotFound
		}
		return nil, err
	}

	if domainID.Valid {
		message.DomainID = &domainID.String
	}
	message.EndpointKind = domain.EndpointKind(endpointKind.String)
	message.EndpointID = endpointID.String
	return &message, nil
}

// InsertDelivery 追加投递记录，邮件必须属于该服务器
func (m *MessageDB) InsertDelivery(ctx context.Context, delivery *domain.Delivery) error {
	var exists int
	err := m.store.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT 1 FROM messages WHERE id = %s AND server_id = %s",
			m.store.placeholder(1), m.store.placeholder(2)),
		delivery.MessageID, m.serverID,
	).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrMessageNotFound
		}
		return err
	}

	if delivery.ID == "" {
		delivery.ID = uuid.New().String()
	}
	extra, err := delivery.Extra.Value()
	if err != nil {
		return fmt.Errorf("encode delivery extra: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO deliveries (id, message_id, status, details, output, sent_with_ssl, %s, log_id, %s, extra)
		VALUES (%s)
	`, m.store.quote("time"), m.store.quote("timestamp"), m.store.placeholders(10))
	_, err = m.store.db.ExecContext(ctx, query,
		delivery.ID,
		delivery.MessageID,
		string(delivery.Status),
		delivery.Details,
		delivery.Output,
		delivery.SentWithSSL,
		nullFloat(delivery.Time),
		delivery.LogID,
		delivery.Timestamp,
		extra,
	)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// ListDeliveries 列出邮件的投递记录，按时间排序
func (m *MessageDB) ListDeliveries(ctx context.Context, messageID string) ([]domain.Delivery, error) {
	query := fmt.Sprintf(`
		SELECT d.id, d.message_id, d.status, d.details, d.output, d.sent_with_ssl, d.%s, d.log_id, d.%s, d.extra
		FROM deliveries d
		JOIN messages m ON m.id = d.message_id
		WHERE d.message_id = %s AND m.server_id = %s
		ORDER BY d.%s ASC, d.id ASC
	`, m.store.quote("time"), m.store.quote("timestamp"),
		m.store.placeholder(1), m.store.placeholder(2), m.store.quote("timestamp"))

	rows, err := m.store.db.QueryContext(ctx, query, messageID, m.serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []domain.Delivery
	for rows.Next() {
		var d domain.Delivery
		var status, details, output, logID sql.NullString
		var elapsed sql.NullFloat64
		var extra datatypes.JSONMap
		var rawExtra interface{}
		if err := rows.Scan(&d.ID, &d.MessageID, &status, &details, &output, &d.SentWithSSL,
			&elapsed, &logID, &d.Timestamp, &rawExtra); err != nil {
			return nil, err
		}
		d.Status = domain.DeliveryStatus(status.String)
		d.Details = details.String
		d.Output = output.String
		d.LogID = logID.String
		if elapsed.Valid {
			v := elapsed.Float64
			d.Time = &v
		}
		if rawExtra != nil {
			if err := extra.Scan(rawExtra); err != nil {
				return nil, fmt.Errorf("decode delivery extra: %w", err)
			}
			if len(extra) > 0 {
				d.Extra = extra
			}
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

// quote 按方言引用列名
func (s *MessageStore) quote(name string) string {
	if s.driverName == DriverMySQL {
		return "`" + name + "`"
	}
	return `"` + name + `"`
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

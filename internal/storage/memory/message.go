package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/storage"
)

// MessageStore 内存消息库集合，每个服务器一个 MessageDB
type MessageStore struct {
	mu            sync.Mutex
	schemaVersion int
	databases     map[string]*MessageDB
}

// NewMessageStore 创建内存消息库集合，schemaVersion 为新建消息库的结构版本
func NewMessageStore(schemaVersion int) *MessageStore {
	return &MessageStore{
		schemaVersion: schemaVersion,
		databases:     make(map[string]*MessageDB),
	}
}

// MessageDB 获取（必要时创建）服务器的消息库
func (s *MessageStore) MessageDB(ctx context.Context, serverID string) (storage.MessageDB, error) {
	return s.Database(serverID), nil
}

// Database 返回具体类型，便于测试检查
func (s *MessageStore) Database(serverID string) *MessageDB {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, ok := s.databases[serverID]
	if !ok {
		db = &MessageDB{
			serverID:      serverID,
			schemaVersion: s.schemaVersion,
			messages:      make(map[string]*domain.Message),
			deliveries:    make(map[string][]*domain.Delivery),
		}
		s.databases[serverID] = db
	}
	return db
}

// MessageDB 单个服务器的内存消息库
type MessageDB struct {
	mu            sync.RWMutex
	serverID      string
	schemaVersion int
	messages      map[string]*domain.Message
	deliveries    map[string][]*domain.Delivery
}

// SchemaVersion 返回消息库结构版本
func (db *MessageDB) SchemaVersion() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.schemaVersion
}

// SetSchemaVersion 调整结构版本
func (db *MessageDB) SetSchemaVersion(v int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.schemaVersion = v
}

// NewMessage 构造未持久化的入站邮件
func (db *MessageDB) NewMessage() *domain.Message {
	return &domain.Message{
		ServerID: db.serverID,
		Scope:    domain.MessageScopeIncoming,
	}
}

// InsertMessage 保存邮件，补全 ID、令牌与创建时间
func (db *MessageDB) InsertMessage(ctx context.Context, message *domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
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

	db.mu.Lock()
	defer db.mu.Unlock()
	cp := *message
	db.messages[message.ID] = &cp
	return nil
}

// GetMessage 获取邮件
func (db *MessageDB) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	m, ok := db.messages[id]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	cp := *m
	return &cp, nil
}

// Messages 返回全部邮件，按创建时间排序
func (db *MessageDB) Messages() []domain.Message {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]domain.Message, 0, len(db.messages))
	for _, m := range db.messages {
		out = append(out, *m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// InsertDelivery 追加投递记录
func (db *MessageDB) InsertDelivery(ctx context.Context, delivery *domain.Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.messages[delivery.MessageID]; !ok {
		return storage.ErrMessageNotFound
	}
	if delivery.ID == "" {
		delivery.ID = uuid.New().String()
	}
	cp := *delivery
	db.deliveries[delivery.MessageID] = append(db.deliveries[delivery.MessageID], &cp)
	return nil
}

// ListDeliveries 返回邮件的投递记录，按插入顺序
func (db *MessageDB) ListDeliveries(ctx context.Context, messageID string) ([]domain.Delivery, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	list := db.deliveries[messageID]
	out := make([]domain.Delivery, 0, len(list))
	for _, d := range list {
		out = append(out, *d)
	}
	return out, nil
}

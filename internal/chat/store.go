package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"legalai/pkg/aiinterface"

	"gorm.io/gorm"
)

var (
	// ErrConversationNotFound 会话不存在
	ErrConversationNotFound = errors.New("Conversation not found")
	// ErrForbidden 会话不属于当前用户
	ErrForbidden = errors.New("Forbidden")
)

const defaultMaxMessages = 100

// Store 会话与消息存储
type Store struct {
	db          *gorm.DB
	maxMessages int
}

// NewStore 创建会话存储，maxMessages 为每个会话保留的消息上限
func NewStore(db *gorm.DB, maxMessages int) *Store {
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}
	return &Store{db: db, maxMessages: maxMessages}
}

// Conversation 查询会话并校验归属
func (s *Store) Conversation(ctx context.Context, userID string, id uint64) (*ChatConversation, error) {
	var conv ChatConversation
	if err := s.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("查询会话失败: %w", err)
	}
	if conv.UserID != userID {
		return nil, ErrForbidden
	}
	return &conv, nil
}

// CreateConversation 以问题摘要为标题新建会话
func (s *Store) CreateConversation(ctx context.Context, userID, question string) (*ChatConversation, error) {
	conv := &ChatConversation{UserID: userID, Title: SummarizeTitle(question, 50)}
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, fmt.Errorf("创建会话失败: %w", err)
	}
	return conv, nil
}

// RecentMessages 返回最近 limit 条消息，按时间正序
func (s *Store) RecentMessages(ctx context.Context, userID string, convID uint64, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []ChatMessage
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND conversation_id = ?", userID, convID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询历史消息失败: %w", err)
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// AddAndTrim 追加消息，超出上限时删除最早的消息，并刷新会话更新时间
func (s *Store) AddAndTrim(ctx context.Context, userID string, convID uint64, role, content string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.addAndTrim(tx, userID, convID, role, content)
	})
}

// AddExchange 在同一事务中写入一问一答
func (s *Store) AddExchange(ctx context.Context, userID string, convID uint64, question, answer string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.addAndTrim(tx, userID, convID, RoleUser, question); err != nil {
			return err
		}
		return s.addAndTrim(tx, userID, convID, RoleAssistant, answer)
	})
}

func (s *Store) addAndTrim(tx *gorm.DB, userID string, convID uint64, role, content string) error {
	msg := &ChatMessage{UserID: userID, ConversationID: convID, Role: role, Content: content}
	if err := tx.Create(msg).Error; err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}

	var ids []uint64
	if err := tx.Model(&ChatMessage{}).
		Where("user_id = ? AND conversation_id = ?", userID, convID).
		Order("id DESC").
		Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("查询消息失败: %w", err)
	}
	if len(ids) > s.maxMessages {
		if err := tx.Where("id IN ?", ids[s.maxMessages:]).Delete(&ChatMessage{}).Error; err != nil {
			return fmt.Errorf("裁剪历史消息失败: %w", err)
		}
	}

	return tx.Model(&ChatConversation{}).
		Where("id = ?", convID).
		Update("updated_at", time.Now()).Error
}

// SummarizeTitle 截取问题作为会话标题，尽量在词边界处断开
func SummarizeTitle(question string, maxLen int) string {
	q := strings.Join(strings.Fields(question), " ")
	if q == "" {
		return "Chat"
	}
	runes := []rune(q)
	if len(runes) <= maxLen {
		return q
	}
	cut := string(runes[:maxLen])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	cut = strings.TrimRight(strings.TrimSpace(cut), ".,;:-")
	if cut == "" {
		return "Chat"
	}
	return cut
}

// toHistory 转换为提示词历史
func toHistory(rows []ChatMessage) []aiinterface.Message {
	out := make([]aiinterface.Message, 0, len(rows))
	for _, m := range rows {
		out = append(out, aiinterface.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

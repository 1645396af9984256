package chat

import (
	"time"
)

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatConversation 用户会话
type ChatConversation struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"size:64;not null;index:idx_chat_conv_user" json:"userId"`
	Title     string    `gorm:"size:200;not null" json:"title"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime;index" json:"updatedAt"`
}

// TableName 指定表名
func (ChatConversation) TableName() string { return "chat_conversations" }

// ChatMessage 会话中的一条消息
type ChatMessage struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         string    `gorm:"size:64;not null;index:idx_chat_msg_user_conv" json:"userId"`
	ConversationID uint64    `gorm:"not null;index:idx_chat_msg_user_conv" json:"conversationId"`
	Role           string    `gorm:"size:20;not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime" json:"createdAt"`
}

// TableName 指定表名
func (ChatMessage) TableName() string { return "chat_messages" }

// AllModels 返回需要迁移的模型
func AllModels() []any {
	return []any{&ChatConversation{}, &ChatMessage{}}
}

// Package model 包含了应用的数据模型定义。
package model

import "time"

// 消息角色常量。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// 生成质量档位：high 会先做一次 architect 扩写，low 直接使用原始 prompt。
const (
	QualityHigh = "high"
	QualityLow  = "low"
)

// Chat 代表一次应用生成会话，拥有一组按 position 排序的消息。
type Chat struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Model     string    `gorm:"size:128;not null" json:"model"`
	Quality   string    `gorm:"size:8;not null" json:"quality"`
	Prompt    string    `gorm:"type:text;not null" json:"prompt"`
	Title     string    `gorm:"size:255" json:"title"`
	Shadcn    bool      `json:"shadcn"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	Messages  []Message `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

func (Chat) TableName() string {
	return "chats"
}

// Message 代表会话内的一条消息。position 在同一会话内唯一且严格递增：
// system 消息固定为 0，首条用户消息为 1，后续追加取 max(position)+1。
type Message struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	ChatID    string    `gorm:"size:64;not null;uniqueIndex:idx_chat_position,priority:1;index" json:"chatId"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	Content   string    `gorm:"type:mediumtext;not null" json:"content"`
	Position  int       `gorm:"not null;uniqueIndex:idx_chat_position,priority:2" json:"position"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Message) TableName() string {
	return "messages"
}

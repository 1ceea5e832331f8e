// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"llamacoder-go/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 数据层哨兵错误，handler 据此映射为 404。
var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
)

// ChatRepository 定义了会话与消息的持久化操作接口。
// 同一会话上的并发追加由事务内的行锁串行化，保证 position 不重复。
type ChatRepository interface {
	CreateChat(ctx context.Context, chat *model.Chat) error
	// FinalizeChat 在一个事务内回填标题并写入初始消息，返回带全部消息的会话。
	FinalizeChat(ctx context.Context, chatID, title string, messages []model.Message) (*model.Chat, error)
	AppendMessage(ctx context.Context, chatID, role, content string) (*model.Message, error)
	GetChat(ctx context.Context, id string) (*model.Chat, error)
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	// ListMessagesUpTo 返回会话内 position 不大于给定值的消息，按 position 升序。
	ListMessagesUpTo(ctx context.Context, chatID string, position int) ([]model.Message, error)
	ListChats(ctx context.Context) ([]model.Chat, error)
	DeleteChats(ctx context.Context, ids []string) (int64, error)
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建一个新的 ChatRepository 实例。
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

// CreateChat 插入会话记录，id 重复时直接报错。
func (r *chatRepository) CreateChat(ctx context.Context, chat *model.Chat) error {
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(chat).Error; err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}
	return nil
}

// FinalizeChat 回填标题并批量写入初始消息（system=0、user=1），整体原子。
func (r *chatRepository) FinalizeChat(ctx context.Context, chatID, title string, messages []model.Message) (*model.Chat, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Chat{}).Where("id = ?", chatID).Update("title", title)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrChatNotFound
		}
		for i := range messages {
			if messages[i].ID == "" {
				messages[i].ID = uuid.NewString()
			}
			messages[i].ChatID = chatID
		}
		return tx.Create(&messages).Error
	})
	if err != nil {
		if errors.Is(err, ErrChatNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to finalize chat: %w", err)
	}
	return r.GetChat(ctx, chatID)
}

// AppendMessage 追加一条消息，position 取当前最大值加一。
// 事务内先对会话行加锁，两个并发追加不会拿到相同的 position。
func (r *chatRepository) AppendMessage(ctx context.Context, chatID, role, content string) (*model.Message, error) {
	msg := &model.Message{
		ID:      uuid.NewString(),
		ChatID:  chatID,
		Role:    role,
		Content: content,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat model.Chat
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&chat, "id = ?", chatID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrChatNotFound
			}
			return err
		}

		var maxPos sql.NullInt64
		if err := tx.Model(&model.Message{}).
			Where("chat_id = ?", chatID).
			Select("MAX(position)").
			Scan(&maxPos).Error; err != nil {
			return err
		}
		if maxPos.Valid {
			msg.Position = int(maxPos.Int64) + 1
		}

		return tx.Create(msg).Error
	})
	if err != nil {
		if errors.Is(err, ErrChatNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return msg, nil
}

// GetChat 返回会话及其按 position 升序排列的全部消息。
func (r *chatRepository) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&chat, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return &chat, nil
}

func (r *chatRepository) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	err := r.db.WithContext(ctx).First(&msg, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

func (r *chatRepository) ListMessagesUpTo(ctx context.Context, chatID string, position int) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND position <= ?", chatID, position).
		Order("position ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// ListChats 返回全部会话，按创建时间倒序（最新在前）。
func (r *chatRepository) ListChats(ctx context.Context) ([]model.Chat, error) {
	var chats []model.Chat
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return chats, nil
}

// DeleteChats 批量删除会话并级联删除其消息，返回删除的会话数。
func (r *chatRepository) DeleteChats(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var count int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id IN ?", ids).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&model.Chat{})
		if res.Error != nil {
			return res.Error
		}
		count = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete chats: %w", err)
	}
	return count, nil
}

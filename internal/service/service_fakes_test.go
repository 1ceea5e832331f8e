package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"llamacoder-go/internal/model"
	"llamacoder-go/internal/repository"
	"llamacoder-go/pkg/llm"

	"github.com/google/uuid"
)

// memRepo 是 ChatRepository 的内存实现，镜像存储契约：
// position 取最大值加一，互斥锁串行化并发追加。
type memRepo struct {
	mu    sync.Mutex
	order []string
	chats map[string]*model.Chat
	msgs  map[string][]model.Message
}

func newMemRepo() *memRepo {
	return &memRepo{
		chats: make(map[string]*model.Chat),
		msgs:  make(map[string][]model.Message),
	}
}

func (r *memRepo) CreateChat(_ context.Context, chat *model.Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	if _, ok := r.chats[chat.ID]; ok {
		return fmt.Errorf("duplicate chat id %s", chat.ID)
	}
	cp := *chat
	cp.CreatedAt = time.Now()
	r.chats[chat.ID] = &cp
	r.order = append(r.order, chat.ID)
	return nil
}

func (r *memRepo) FinalizeChat(ctx context.Context, chatID, title string, messages []model.Message) (*model.Chat, error) {
	r.mu.Lock()
	chat, ok := r.chats[chatID]
	if !ok {
		r.mu.Unlock()
		return nil, repository.ErrChatNotFound
	}
	chat.Title = title
	for i := range messages {
		if messages[i].ID == "" {
			messages[i].ID = uuid.NewString()
		}
		messages[i].ChatID = chatID
		r.msgs[chatID] = append(r.msgs[chatID], messages[i])
	}
	r.mu.Unlock()
	return r.GetChat(ctx, chatID)
}

func (r *memRepo) AppendMessage(_ context.Context, chatID, role, content string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chats[chatID]; !ok {
		return nil, repository.ErrChatNotFound
	}
	pos := 0
	for _, m := range r.msgs[chatID] {
		if m.Position >= pos {
			pos = m.Position + 1
		}
	}
	msg := model.Message{
		ID:       uuid.NewString(),
		ChatID:   chatID,
		Role:     role,
		Content:  content,
		Position: pos,
	}
	r.msgs[chatID] = append(r.msgs[chatID], msg)
	return &msg, nil
}

func (r *memRepo) GetChat(_ context.Context, id string) (*model.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.chats[id]
	if !ok {
		return nil, repository.ErrChatNotFound
	}
	cp := *chat
	cp.Messages = append([]model.Message(nil), r.msgs[id]...)
	for i := 0; i < len(cp.Messages); i++ {
		for j := i + 1; j < len(cp.Messages); j++ {
			if cp.Messages[j].Position < cp.Messages[i].Position {
				cp.Messages[i], cp.Messages[j] = cp.Messages[j], cp.Messages[i]
			}
		}
	}
	return &cp, nil
}

func (r *memRepo) GetMessage(_ context.Context, id string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msgs := range r.msgs {
		for _, m := range msgs {
			if m.ID == id {
				cp := m
				return &cp, nil
			}
		}
	}
	return nil, repository.ErrMessageNotFound
}

func (r *memRepo) ListMessagesUpTo(ctx context.Context, chatID string, position int) ([]model.Message, error) {
	chat, err := r.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	var out []model.Message
	for _, m := range chat.Messages {
		if m.Position <= position {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memRepo) ListChats(_ context.Context) ([]model.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Chat, 0, len(r.order))
	// 最新在前
	for i := len(r.order) - 1; i >= 0; i-- {
		if chat, ok := r.chats[r.order[i]]; ok {
			out = append(out, *chat)
		}
	}
	return out, nil
}

func (r *memRepo) DeleteChats(_ context.Context, ids []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, id := range ids {
		if _, ok := r.chats[id]; ok {
			delete(r.chats, id)
			delete(r.msgs, id)
			count++
		}
	}
	return count, nil
}

// fakeLLM 是可编程的模型客户端替身。
type fakeLLM struct {
	chatFn   func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
	streamFn func(ctx context.Context, req *llm.ChatRequest, fn llm.StreamFunc) error
}

func (f *fakeLLM) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if f.chatFn == nil {
		return &llm.ChatResponse{Role: model.RoleAssistant, Content: "ok"}, nil
	}
	return f.chatFn(ctx, req)
}

func (f *fakeLLM) StreamChat(ctx context.Context, req *llm.ChatRequest, fn llm.StreamFunc) error {
	if f.streamFn == nil {
		return nil
	}
	return f.streamFn(ctx, req, fn)
}

func (f *fakeLLM) ListModels(context.Context) ([]llm.ModelInfo, error) { return nil, nil }

func (f *fakeLLM) Version(context.Context, time.Duration) (string, error) { return "test", nil }

func (f *fakeLLM) Cancel(string) bool { return false }

// memScreenshots 是 ScreenshotStore 的内存替身。
type memScreenshots struct {
	objects map[string][]byte
}

func (s *memScreenshots) Put(_ context.Context, key, _ string, data []byte) error {
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	s.objects[key] = data
	return nil
}

func (s *memScreenshots) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("screenshot %s not found", key)
	}
	return data, nil
}

// recordSink 记录所有写出的分块与转换事件。
type recordSink struct {
	chunks      []string
	roles       []string
	transitions []string
}

func (s *recordSink) WriteChunk(role, content string) error {
	s.roles = append(s.roles, role)
	s.chunks = append(s.chunks, content)
	return nil
}

func (s *recordSink) WriteTransition(state string) error {
	s.transitions = append(s.transitions, state)
	return nil
}

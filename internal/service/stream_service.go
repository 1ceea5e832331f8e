package service

import (
	"context"

	"llamacoder-go/internal/model"
	"llamacoder-go/internal/repository"
	"llamacoder-go/pkg/llm"
	"llamacoder-go/pkg/log"
	"llamacoder-go/pkg/stream"
)

// 历史超过 10 条时保留前 3 条（system + 最早上下文）与最近 7 条。
const (
	historyLimit = 10
	headKeep     = 3
	tailKeep     = 7
)

// 围栏转换状态，驱动前端在代码视图与预览视图间切换。
const (
	TransitionCode    = "code"
	TransitionPreview = "preview"
)

// ChunkWriter 接收流式输出。实现方包括 SSE 写入器与 WebSocket 写入器。
type ChunkWriter interface {
	WriteChunk(role, content string) error
	// WriteTransition 在首个代码围栏开栏/闭合时各收到一次通知。
	WriteTransition(state string) error
}

// TruncateHistory 应用历史截断策略，控制上下文窗口成本。
func TruncateHistory(messages []llm.Message) []llm.Message {
	if len(messages) <= historyLimit {
		return messages
	}
	out := make([]llm.Message, 0, historyLimit)
	out = append(out, messages[:headKeep]...)
	out = append(out, messages[len(messages)-tailKeep:]...)
	return out
}

// StreamService 定义了流式回复桥接层的接口。
type StreamService interface {
	// StreamReply 打开流式补全，边到边转发，完成后把完整 assistant
	// 文本落库。被取消的流不落库。
	StreamReply(ctx context.Context, requestID, chatID, modelName string, history []llm.Message, w ChunkWriter) error
	// ContinueFromMessage 从指定消息（含）处重建历史并流式续写，不落库。
	ContinueFromMessage(ctx context.Context, requestID, messageID, modelName string, w ChunkWriter) error
}

type streamService struct {
	llmClient llm.Client
	repo      repository.ChatRepository
}

// NewStreamService 创建一个新的 StreamService 实例。
func NewStreamService(llmClient llm.Client, repo repository.ChatRepository) StreamService {
	return &streamService{llmClient: llmClient, repo: repo}
}

func (s *streamService) StreamReply(ctx context.Context, requestID, chatID, modelName string, history []llm.Message, w ChunkWriter) error {
	history = TruncateHistory(history)

	// 围栏状态按回合持有，不同回合、不同会话之间互不影响
	turn := stream.NewTurn()
	err := s.llmClient.StreamChat(ctx, &llm.ChatRequest{
		RequestID: requestID,
		Model:     modelName,
		Messages:  history,
	}, func(c llm.Chunk) error {
		justOpened, justClosed := turn.Append(c.Content)

		role := c.Role
		if role == "" {
			role = model.RoleAssistant
		}
		if err := w.WriteChunk(role, c.Content); err != nil {
			return err
		}
		if justOpened {
			if err := w.WriteTransition(TransitionCode); err != nil {
				return err
			}
		}
		if justClosed {
			if err := w.WriteTransition(TransitionPreview); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		// 被取消的回合不触发落库
		return ctx.Err()
	}

	fullText := turn.Text()
	if fullText == "" {
		return nil
	}
	// 使用后台上下文落库：流已经成功送达，原始请求结束不应丢掉这条消息
	if _, err := s.repo.AppendMessage(context.Background(), chatID, model.RoleAssistant, fullText); err != nil {
		// 只记录错误：已送达的流不回撤
		log.Errorf("保存 assistant 消息失败 (chat=%s): %v", chatID, err)
	}
	return nil
}

func (s *streamService) ContinueFromMessage(ctx context.Context, requestID, messageID, modelName string, w ChunkWriter) error {
	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}

	stored, err := s.repo.ListMessagesUpTo(ctx, msg.ChatID, msg.Position)
	if err != nil {
		return err
	}
	history := make([]llm.Message, 0, len(stored))
	for _, m := range stored {
		history = append(history, llm.Message{Role: m.Role, Content: m.Content})
	}
	history = TruncateHistory(history)

	turn := stream.NewTurn()
	return s.llmClient.StreamChat(ctx, &llm.ChatRequest{
		RequestID: requestID,
		Model:     modelName,
		Messages:  history,
	}, func(c llm.Chunk) error {
		justOpened, justClosed := turn.Append(c.Content)

		role := c.Role
		if role == "" {
			role = model.RoleAssistant
		}
		if err := w.WriteChunk(role, c.Content); err != nil {
			return err
		}
		if justOpened {
			if err := w.WriteTransition(TransitionCode); err != nil {
				return err
			}
		}
		if justClosed {
			if err := w.WriteTransition(TransitionPreview); err != nil {
				return err
			}
		}
		return nil
	})
}

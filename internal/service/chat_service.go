// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"llamacoder-go/internal/model"
	"llamacoder-go/internal/prompt"
	"llamacoder-go/internal/repository"
	"llamacoder-go/pkg/llm"
	"llamacoder-go/pkg/log"
)

// 视觉描述与 architect 扩写统一使用低 temperature，偏向字面输出。
var literalTemperature = 0.2

// ChatDetail 是创建会话后的完整返回：会话、全部消息与最后一条消息的 id。
type ChatDetail struct {
	Chat          *model.Chat     `json:"chat"`
	Messages      []model.Message `json:"messages"`
	LastMessageID string          `json:"lastMessageId"`
}

// ScreenshotStore 抽象截图对象的读写，生产实现基于 MinIO。
type ScreenshotStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// ChatService 定义了会话编排与管理的接口。
type ChatService interface {
	// CreateChat 执行完整的创建管线：标题、示例分类、可选截图描述、
	// 可选 architect 扩写，最终写入 system+user 两条初始消息。
	CreateChat(ctx context.Context, id, promptText, modelName, quality, screenshotKey string) (*ChatDetail, error)
	AppendMessage(ctx context.Context, chatID, role, content string) (*model.Message, error)
	GetChat(ctx context.Context, id string) (*model.Chat, error)
	ListChats(ctx context.Context) ([]model.Chat, error)
	DeleteChats(ctx context.Context, ids []string) (int64, error)
}

type chatService struct {
	llmClient    llm.Client
	repo         repository.ChatRepository
	screenshots  ScreenshotStore
	defaultModel string
	visionModel  string
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(llmClient llm.Client, repo repository.ChatRepository, screenshots ScreenshotStore, defaultModel, visionModel string) ChatService {
	return &chatService{
		llmClient:    llmClient,
		repo:         repo,
		screenshots:  screenshots,
		defaultModel: defaultModel,
		visionModel:  visionModel,
	}
}

// CreateChat 按固定管线创建会话。标题与分类并发执行且各自降级，
// 任何一步失败都不会中断整个创建流程。
func (s *chatService) CreateChat(ctx context.Context, id, promptText, modelName, quality, screenshotKey string) (*ChatDetail, error) {
	if modelName == "" {
		modelName = s.defaultModel
	}
	if quality != model.QualityHigh {
		quality = model.QualityLow
	}

	// 先落会话记录，保证 id 在任何模型调用完成前就已稳定
	chat := &model.Chat{
		ID:      id,
		Model:   modelName,
		Quality: quality,
		Prompt:  promptText,
		Title:   "",
		Shadcn:  true,
	}
	if err := s.repo.CreateChat(ctx, chat); err != nil {
		return nil, err
	}

	// 标题与示例分类互不依赖，并发执行
	var (
		wg      sync.WaitGroup
		title   string
		example string
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		title = s.fetchTitle(ctx, modelName, promptText)
	}()
	go func() {
		defer wg.Done()
		example = s.fetchExample(ctx, modelName, promptText)
	}()
	wg.Wait()

	var screenshotDesc string
	if screenshotKey != "" {
		screenshotDesc = s.describeScreenshot(ctx, screenshotKey)
	}

	userMessage := s.buildUserMessage(ctx, modelName, quality, promptText, screenshotDesc)

	messages := []model.Message{
		{Role: model.RoleSystem, Content: prompt.MainCoding(example), Position: 0},
		{Role: model.RoleUser, Content: userMessage, Position: 1},
	}
	full, err := s.repo.FinalizeChat(ctx, chat.ID, title, messages)
	if err != nil {
		return nil, err
	}
	if len(full.Messages) == 0 {
		// 刚写入两条消息的会话不可能为空，说明写入路径已损坏
		return nil, fmt.Errorf("chat %s has no messages after creation", chat.ID)
	}

	last := full.Messages[len(full.Messages)-1]
	return &ChatDetail{Chat: full, Messages: full.Messages, LastMessageID: last.ID}, nil
}

// fetchTitle 请求 3-5 词的标题，失败时降级为原始 prompt。
func (s *chatService) fetchTitle(ctx context.Context, modelName, promptText string) string {
	resp, err := s.llmClient.Chat(ctx, &llm.ChatRequest{
		Model: modelName,
		Messages: []llm.Message{
			{Role: model.RoleSystem, Content: prompt.TitleSystem},
			{Role: model.RoleUser, Content: promptText},
		},
	})
	if err != nil || resp.Content == "" {
		log.Warnf("标题生成失败，回退为原始 prompt: %v", err)
		return promptText
	}
	return resp.Content
}

// fetchExample 把 prompt 归类到封闭示例集合，失败时降级为 none。
func (s *chatService) fetchExample(ctx context.Context, modelName, promptText string) string {
	resp, err := s.llmClient.Chat(ctx, &llm.ChatRequest{
		Model: modelName,
		Messages: []llm.Message{
			{Role: model.RoleSystem, Content: prompt.ExampleSystem},
			{Role: model.RoleUser, Content: promptText},
		},
	})
	if err != nil {
		log.Warnf("示例分类失败，回退为 none: %v", err)
		return "none"
	}
	return prompt.NormalizeExample(resp.Content)
}

// describeScreenshot 从对象存储取回截图并请求视觉模型做字面描述。
// 任一环节失败都降级为空描述。
func (s *chatService) describeScreenshot(ctx context.Context, screenshotKey string) string {
	data, err := s.screenshots.Get(ctx, screenshotKey)
	if err != nil {
		log.Warnf("读取截图 %s 失败，跳过截图描述: %v", screenshotKey, err)
		return ""
	}

	resp, err := s.llmClient.Chat(ctx, &llm.ChatRequest{
		Model: s.visionModel,
		Messages: []llm.Message{
			{
				Role:    model.RoleUser,
				Content: prompt.ScreenshotToCode,
				Images:  []string{base64.StdEncoding.EncodeToString(data)},
			},
		},
		Options: &llm.Options{Temperature: &literalTemperature},
	})
	if err != nil {
		log.Warnf("截图描述失败，跳过截图描述: %v", err)
		return ""
	}
	return resp.Content
}

// buildUserMessage 按质量档位生成有效的用户消息。
func (s *chatService) buildUserMessage(ctx context.Context, modelName, quality, promptText, screenshotDesc string) string {
	if quality == model.QualityHigh {
		input := promptText
		if screenshotDesc != "" {
			input = screenshotDesc + promptText
		}
		resp, err := s.llmClient.Chat(ctx, &llm.ChatRequest{
			Model: modelName,
			Messages: []llm.Message{
				{Role: model.RoleSystem, Content: prompt.SoftwareArchitect},
				{Role: model.RoleUser, Content: input},
			},
			Options: &llm.Options{Temperature: &literalTemperature},
		})
		if err != nil || resp.Content == "" {
			log.Warnf("architect 扩写失败，回退为原始 prompt: %v", err)
			return promptText
		}
		return resp.Content
	}

	if screenshotDesc != "" {
		return promptText + prompt.RecreateInstruction + screenshotDesc
	}
	return promptText
}

func (s *chatService) AppendMessage(ctx context.Context, chatID, role, content string) (*model.Message, error) {
	return s.repo.AppendMessage(ctx, chatID, role, content)
}

func (s *chatService) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	return s.repo.GetChat(ctx, id)
}

func (s *chatService) ListChats(ctx context.Context) ([]model.Chat, error) {
	return s.repo.ListChats(ctx)
}

func (s *chatService) DeleteChats(ctx context.Context, ids []string) (int64, error) {
	return s.repo.DeleteChats(ctx, ids)
}

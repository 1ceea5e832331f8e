// Package llm provides a client for the local Ollama model-serving endpoint.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"llamacoder-go/internal/config"
	"llamacoder-go/pkg/log"
)

// Message 表示一条角色消息，Images 为 base64 编码的图片附件（视觉模型用）。
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// Options 控制生成行为（传参优先于全局配置）。
type Options struct {
	Temperature *float64
	TopP        *float64
	NumPredict  *int
}

// Chunk 是流式响应中的一个增量分块。
type Chunk struct {
	Role    string
	Content string
}

// ChatRequest 描述一次聊天补全请求。
// RequestID 非空时该请求会注册一个可单独取消的句柄，见 Cancel。
type ChatRequest struct {
	RequestID string
	Model     string
	Messages  []Message
	Options   *Options
}

// ChatResponse 是缓冲模式下的完整补全结果。
type ChatResponse struct {
	Role    string
	Content string
}

// ModelInfo 描述模型服务端的一个可用模型。
type ModelInfo struct {
	Name       string    `json:"name"`
	Model      string    `json:"model"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// APIError 表示模型服务端返回的非成功响应。
// Message 优先取服务端的 error 字段，否则为按状态码生成的通用描述。
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ollama api error (status %d): %s", e.StatusCode, e.Message)
}

// StreamFunc 按到达顺序处理每个流式分块；返回非 nil 错误会中止流。
type StreamFunc func(Chunk) error

// Client defines the interface for the model client.
type Client interface {
	// Chat 以缓冲模式调用聊天接口，返回完整响应文本。
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// StreamChat 以流式模式调用聊天接口，分块按到达顺序交给 fn。
	StreamChat(ctx context.Context, req *ChatRequest, fn StreamFunc) error
	// ListModels 返回模型服务端当前可用的模型列表。
	ListModels(ctx context.Context) ([]ModelInfo, error)
	// Version 在给定超时内探测模型服务端版本，可用作健康检查。
	Version(ctx context.Context, timeout time.Duration) (string, error)
	// Cancel 中止 RequestID 对应的在途请求，返回是否命中。
	Cancel(requestID string) bool
}

type ollamaClient struct {
	cfg    config.OllamaConfig
	client *http.Client
	// 在途流式请求句柄表：requestID -> cancel
	inflight sync.Map
}

// NewClient creates a new client against the configured Ollama endpoint.
func NewClient(cfg config.OllamaConfig) Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ollamaClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type chatPayload struct {
	Model    string                 `json:"model"`
	Messages []Message              `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// chatLine 对应 Ollama /api/chat 的一行 NDJSON 响应。
type chatLine struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

func (c *ollamaClient) buildOptions(opts *Options) map[string]interface{} {
	out := map[string]interface{}{}
	// 从配置注入默认生成参数（若非零值）
	if c.cfg.Generation.Temperature != 0 {
		out["temperature"] = c.cfg.Generation.Temperature
	}
	if c.cfg.Generation.TopP != 0 {
		out["top_p"] = c.cfg.Generation.TopP
	}
	if c.cfg.Generation.NumPredict != 0 {
		out["num_predict"] = c.cfg.Generation.NumPredict
	}
	// 传参优先生效
	if opts != nil {
		if opts.Temperature != nil {
			out["temperature"] = *opts.Temperature
		}
		if opts.TopP != nil {
			out["top_p"] = *opts.TopP
		}
		if opts.NumPredict != nil {
			out["num_predict"] = *opts.NumPredict
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// postChat 发送 /api/chat 请求并校验状态码，非 2xx 转换为 *APIError。
func (c *ollamaClient) postChat(ctx context.Context, req *ChatRequest, stream bool) (*http.Response, error) {
	payload := chatPayload{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   stream,
		Options:  c.buildOptions(req.Options),
	}
	if payload.Model == "" {
		payload.Model = c.cfg.Model
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call chat api: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, apiErrorFromResponse(resp)
	}
	return resp, nil
}

// apiErrorFromResponse 提取服务端 error 字段；无法解析时回退为状态描述。
func apiErrorFromResponse(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: "HTTP error: " + resp.Status}
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return apiErr
	}
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(bodyBytes, &e) == nil && e.Error != "" {
		apiErr.Message = e.Error
	}
	return apiErr
}

// Chat 以缓冲模式（stream=false）请求一次完整补全。
func (c *ollamaClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	resp, err := c.postChat(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var line chatLine
	if err := json.NewDecoder(resp.Body).Decode(&line); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}
	if line.Error != "" {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: line.Error}
	}
	return &ChatResponse{Role: line.Message.Role, Content: line.Message.Content}, nil
}

// StreamChat 逐行读取 NDJSON 流并把增量分块交给 fn。
// 无法解析的行仅记录日志后跳过，不会中止整个流。
func (c *ollamaClient) StreamChat(ctx context.Context, req *ChatRequest, fn StreamFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if req.RequestID != "" {
		c.inflight.Store(req.RequestID, cancel)
		defer c.inflight.Delete(req.RequestID)
	}

	resp, err := c.postChat(ctx, req, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for {
		rawLine, readErr := reader.ReadString('\n')
		if line := strings.TrimSpace(rawLine); line != "" {
			var chunk chatLine
			if jsonErr := json.Unmarshal([]byte(line), &chunk); jsonErr != nil {
				log.Warnf("跳过无法解析的流式分块: %v", jsonErr)
			} else {
				if chunk.Error != "" {
					return &APIError{StatusCode: resp.StatusCode, Message: chunk.Error}
				}
				if chunk.Message.Content != "" {
					if cbErr := fn(Chunk{Role: chunk.Message.Role, Content: chunk.Message.Content}); cbErr != nil {
						return cbErr
					}
				}
				if chunk.Done {
					log.Debugf("流式请求完成: %s", req.RequestID)
					return nil
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read from stream: %w", readErr)
		}
	}
}

type tagsResponse struct {
	Models []ModelInfo `json:"models"`
}

// ListModels 查询 /api/tags 获取可用模型。
func (c *ollamaClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create tags request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call tags api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiErrorFromResponse(resp)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags response: %w", err)
	}
	return tags.Models, nil
}

// Version 带调用方超时地请求 /api/version。
func (c *ollamaClient) Version(ctx context.Context, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/version", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create version request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to call version api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apiErrorFromResponse(resp)
	}

	var v struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return "", fmt.Errorf("failed to decode version response: %w", err)
	}
	return v.Version, nil
}

// Cancel 中止指定在途请求的底层传输。句柄在流结束时移除，重复取消无害。
func (c *ollamaClient) Cancel(requestID string) bool {
	v, ok := c.inflight.Load(requestID)
	if !ok {
		return false
	}
	v.(context.CancelFunc)()
	return true
}

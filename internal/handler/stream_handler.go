package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"llamacoder-go/internal/repository"
	"llamacoder-go/internal/service"
	"llamacoder-go/pkg/llm"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// StreamHandler 处理流式聊天接口（SSE）。
type StreamHandler struct {
	streamService service.StreamService
}

// NewStreamHandler 创建一个新的 StreamHandler。
func NewStreamHandler(streamService service.StreamService) *StreamHandler {
	return &StreamHandler{streamService: streamService}
}

type messagePayload struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content"`
}

type streamChatRequest struct {
	ChatID   string           `json:"chatId" binding:"required"`
	Model    string           `json:"model"`
	Messages []messagePayload `json:"messages" binding:"required"`
}

// Stream 接收完整消息历史，流式转发 assistant 输出，
// 完成后由服务层把完整回复落库。
func (h *StreamHandler) Stream(c *gin.Context) {
	var req streamChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	history := make([]llm.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		history = append(history, llm.Message{Role: m.Role, Content: m.Content})
	}

	w := newSSEWriter(c)
	requestID := uuid.NewString()
	err := h.streamService.StreamReply(c.Request.Context(), requestID, req.ChatID, req.Model, history, w)
	h.finish(c, w, err)
}

type continueStreamRequest struct {
	MessageID string `json:"messageId" binding:"required"`
	Model     string `json:"model"`
}

// Continue 从指定消息处重建（截断后的）历史并返回流式续写。
func (h *StreamHandler) Continue(c *gin.Context) {
	var req continueStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	w := newSSEWriter(c)
	requestID := uuid.NewString()
	err := h.streamService.ContinueFromMessage(c.Request.Context(), requestID, req.MessageID, req.Model, w)
	h.finish(c, w, err)
}

// finish 统一收尾：未写出任何字节的失败仍走 JSON 包装，
// 已开始的流只能以错误事件结束。
func (h *StreamHandler) finish(c *gin.Context, w *sseWriter, err error) {
	if err != nil {
		if c.Request.Context().Err() != nil {
			// 客户端已断开，无处可写
			return
		}
		if !w.started {
			if errors.Is(err, repository.ErrMessageNotFound) || errors.Is(err, repository.ErrChatNotFound) {
				respondError(c, http.StatusNotFound, err.Error())
				return
			}
			var apiErr *llm.APIError
			if errors.As(err, &apiErr) {
				respondError(c, http.StatusBadGateway, apiErr.Message)
				return
			}
			respondError(c, http.StatusInternalServerError, err.Error())
			return
		}
		w.writeEvent("error", err.Error())
		return
	}
	w.done()
}

// sseWriter 把分块写成 text/event-stream。首次写出时才设置响应头，
// 这样流开始前的失败还能以普通 JSON 响应返回。
type sseWriter struct {
	c       *gin.Context
	started bool
}

func newSSEWriter(c *gin.Context) *sseWriter {
	return &sseWriter{c: c}
}

func (w *sseWriter) ensureHeaders() {
	if w.started {
		return
	}
	w.started = true
	header := w.c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.c.Writer.WriteHeader(http.StatusOK)
}

// WriteChunk 实现 service.ChunkWriter。
func (w *sseWriter) WriteChunk(role, content string) error {
	w.ensureHeaders()
	payload, err := json.Marshal(map[string]string{"role": role, "content": content})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.c.Writer, "data: %s\n\n", payload); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}

// WriteTransition 实现 service.ChunkWriter。
func (w *sseWriter) WriteTransition(state string) error {
	return w.writeEvent("transition", state)
}

func (w *sseWriter) writeEvent(event, data string) error {
	w.ensureHeaders()
	if _, err := fmt.Fprintf(w.c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}

func (w *sseWriter) done() {
	w.ensureHeaders()
	fmt.Fprint(w.c.Writer, "data: [DONE]\n\n")
	w.c.Writer.Flush()
}

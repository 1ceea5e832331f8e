package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"llamacoder-go/internal/model"
	"llamacoder-go/internal/repository"
	"llamacoder-go/internal/service"
	"llamacoder-go/pkg/llm"
	"llamacoder-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// WSHandler 提供 WebSocket 聊天通道：chat 帧追加用户消息并流式返回
// assistant 回复，stop 帧取消当前在途请求。
type WSHandler struct {
	chatService   service.ChatService
	streamService service.StreamService
	llmClient     llm.Client
}

// NewWSHandler 创建一个新的 WSHandler。
func NewWSHandler(chatService service.ChatService, streamService service.StreamService, llmClient llm.Client) *WSHandler {
	return &WSHandler{
		chatService:   chatService,
		streamService: streamService,
		llmClient:     llmClient,
	}
}

// wsFrame 是客户端发来的控制/聊天帧。
type wsFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Model   string `json:"model,omitempty"`
}

// wsSession 持有一条连接的写锁与当前在途请求 id。
// gorilla/websocket 的并发写必须串行化。
type wsSession struct {
	conn *websocket.Conn

	mu        sync.Mutex
	requestID string
}

func (s *wsSession) writeJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *wsSession) setRequestID(id string) {
	s.mu.Lock()
	s.requestID = id
	s.mu.Unlock()
}

func (s *wsSession) currentRequestID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestID
}

// Handle 处理一个传入的 WebSocket 连接。
func (h *WSHandler) Handle(c *gin.Context) {
	chatID := c.Param("chatId")
	if _, err := h.chatService.GetChat(c.Request.Context(), chatID); err != nil {
		if errors.Is(err, repository.ErrChatNotFound) {
			respondError(c, http.StatusNotFound, "chat not found")
		} else {
			respondError(c, http.StatusInternalServerError, err.Error())
		}
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，chat: %s", chatID)
	sess := &wsSession{conn: conn}

	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		switch frame.Type {
		case "stop":
			// 通过句柄表取消当前在途请求；重复/过期的 stop 无害
			if id := sess.currentRequestID(); id != "" && h.llmClient.Cancel(id) {
				_ = sess.writeJSON(gin.H{
					"type":      "stop",
					"message":   "响应已停止",
					"timestamp": time.Now().UnixMilli(),
				})
			}
		case "chat":
			if frame.Content == "" {
				continue
			}
			// 流式回合放到独立 goroutine，读循环保持可接收 stop 帧
			go h.runTurn(sess, chatID, frame)
		default:
			log.Warnf("收到未知的 WebSocket 帧类型: %s", frame.Type)
		}
	}
}

// runTurn 执行一个完整的聊天回合：追加用户消息、重建历史、流式回复。
func (h *WSHandler) runTurn(sess *wsSession, chatID string, frame wsFrame) {
	// 连接生命周期与请求无关，使用后台上下文；取消走 Cancel 句柄
	ctx := context.Background()

	if _, err := h.chatService.AppendMessage(ctx, chatID, model.RoleUser, frame.Content); err != nil {
		_ = sess.writeJSON(gin.H{"type": "error", "info": err.Error()})
		return
	}

	chat, err := h.chatService.GetChat(ctx, chatID)
	if err != nil {
		_ = sess.writeJSON(gin.H{"type": "error", "info": err.Error()})
		return
	}
	history := make([]llm.Message, 0, len(chat.Messages))
	for _, m := range chat.Messages {
		history = append(history, llm.Message{Role: m.Role, Content: m.Content})
	}

	modelName := frame.Model
	if modelName == "" {
		modelName = chat.Model
	}

	requestID := uuid.NewString()
	sess.setRequestID(requestID)
	defer sess.setRequestID("")

	err = h.streamService.StreamReply(ctx, requestID, chatID, modelName, history, &wsChunkWriter{sess: sess})
	if err != nil && !errors.Is(err, context.Canceled) {
		_ = sess.writeJSON(gin.H{"type": "error", "info": err.Error()})
	}

	// 与错误情形一致，回合结束时总是发送 completion 通知
	_ = sess.writeJSON(gin.H{
		"type":      "completion",
		"status":    "finished",
		"timestamp": time.Now().UnixMilli(),
	})
}

// wsChunkWriter 把流式分块包装成 JSON 帧写入 WebSocket。
type wsChunkWriter struct {
	sess *wsSession
}

// WriteChunk 实现 service.ChunkWriter。
func (w *wsChunkWriter) WriteChunk(role, content string) error {
	return w.sess.writeJSON(gin.H{"type": "chunk", "role": role, "content": content})
}

// WriteTransition 实现 service.ChunkWriter。
func (w *wsChunkWriter) WriteTransition(state string) error {
	return w.sess.writeJSON(gin.H{"type": "transition", "state": state})
}

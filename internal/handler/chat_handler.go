package handler

import (
	"errors"
	"net/http"

	"llamacoder-go/internal/model"
	"llamacoder-go/internal/repository"
	"llamacoder-go/internal/service"

	"github.com/gin-gonic/gin"
)

// ChatHandler 处理会话的创建、查询、追加与删除。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

type createChatRequest struct {
	ID            string `json:"id"`
	Prompt        string `json:"prompt" binding:"required"`
	Model         string `json:"model"`
	Quality       string `json:"quality"`
	ScreenshotKey string `json:"screenshotKey"`
}

// Create 执行完整的会话创建管线并返回会话、消息与最后一条消息 id。
func (h *ChatHandler) Create(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	detail, err := h.chatService.CreateChat(c.Request.Context(), req.ID, req.Prompt, req.Model, req.Quality, req.ScreenshotKey)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	respondSuccess(c, detail)
}

// List 返回全部会话，最新在前。
func (h *ChatHandler) List(c *gin.Context) {
	chats, err := h.chatService.ListChats(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	respondSuccess(c, chats)
}

// Get 返回单个会话及其按 position 排序的消息。
func (h *ChatHandler) Get(c *gin.Context) {
	chat, err := h.chatService.GetChat(c.Request.Context(), c.Param("chatId"))
	if err != nil {
		if errors.Is(err, repository.ErrChatNotFound) {
			respondError(c, http.StatusNotFound, "chat not found")
			return
		}
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	respondSuccess(c, chat)
}

type appendMessageRequest struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// AppendMessage 向已有会话追加一条消息，position 自动取最大值加一。
func (h *ChatHandler) AppendMessage(c *gin.Context) {
	var req appendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.Role != model.RoleUser && req.Role != model.RoleAssistant {
		respondError(c, http.StatusBadRequest, "role must be user or assistant")
		return
	}

	msg, err := h.chatService.AppendMessage(c.Request.Context(), c.Param("chatId"), req.Role, req.Content)
	if err != nil {
		if errors.Is(err, repository.ErrChatNotFound) {
			respondError(c, http.StatusNotFound, "chat not found")
			return
		}
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	respondSuccess(c, msg)
}

type deleteChatsRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

// Delete 批量删除会话，级联删除其消息，返回删除数量。
func (h *ChatHandler) Delete(c *gin.Context) {
	var req deleteChatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	count, err := h.chatService.DeleteChats(c.Request.Context(), req.IDs)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	respondSuccess(c, gin.H{"deleted": count})
}

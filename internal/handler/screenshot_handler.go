package handler

import (
	"io"
	"net/http"
	"path/filepath"

	"llamacoder-go/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// 截图最大 10MB，超过直接拒绝。
const maxScreenshotSize = 10 << 20

// ScreenshotHandler 处理截图上传，返回后续创建会话时引用的 key。
type ScreenshotHandler struct {
	store service.ScreenshotStore
}

// NewScreenshotHandler 创建一个新的 ScreenshotHandler。
func NewScreenshotHandler(store service.ScreenshotStore) *ScreenshotHandler {
	return &ScreenshotHandler{store: store}
}

// Upload 接收 multipart 表单中的 file 字段并写入对象存储。
func (h *ScreenshotHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "missing file field")
		return
	}
	if fileHeader.Size > maxScreenshotSize {
		respondError(c, http.StatusBadRequest, "screenshot too large")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	key := uuid.NewString() + filepath.Ext(fileHeader.Filename)
	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := h.store.Put(c.Request.Context(), key, contentType, data); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	respondSuccess(c, gin.H{"key": key})
}

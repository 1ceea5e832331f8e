package handler

import (
	"errors"
	"net/http"

	"llamacoder-go/internal/service"
	"llamacoder-go/pkg/llm"

	"github.com/gin-gonic/gin"
)

// ModelHandler 处理模型列表查询。
type ModelHandler struct {
	modelService service.ModelService
}

// NewModelHandler 创建一个新的 ModelHandler。
func NewModelHandler(modelService service.ModelService) *ModelHandler {
	return &ModelHandler{modelService: modelService}
}

// List 返回模型服务端当前可用的模型。
func (h *ModelHandler) List(c *gin.Context) {
	models, err := h.modelService.ListModels(c.Request.Context())
	if err != nil {
		var apiErr *llm.APIError
		if errors.As(err, &apiErr) {
			respondError(c, http.StatusBadGateway, apiErr.Message)
			return
		}
		respondError(c, http.StatusBadGateway, err.Error())
		return
	}
	respondSuccess(c, models)
}

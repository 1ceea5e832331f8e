// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// apiResponse 是非流式接口的统一响应包装：code=0 成功，非 0 失败且 data 为 null。
type apiResponse struct {
	Code int         `json:"code"`
	Data interface{} `json:"data"`
	Info string      `json:"info"`
}

func respondSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, apiResponse{Code: 0, Data: data, Info: "success"})
}

func respondError(c *gin.Context, status int, info string) {
	c.JSON(status, apiResponse{Code: -1, Data: nil, Info: info})
}

// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"llamacoder-go/internal/config"
	"llamacoder-go/internal/handler"
	"llamacoder-go/internal/middleware"
	"llamacoder-go/internal/repository"
	"llamacoder-go/internal/service"
	"llamacoder-go/pkg/database"
	"llamacoder-go/pkg/llm"
	"llamacoder-go/pkg/log"
	"llamacoder-go/pkg/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis 与对象存储
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)

	// 4. 初始化模型客户端并探测服务端（失败仅告警，不阻塞启动）
	llmClient := llm.NewClient(cfg.Ollama)
	if version, err := llmClient.Version(context.Background(), 5*time.Second); err != nil {
		log.Warnf("模型服务端探测失败，请确认 Ollama 已启动: %v", err)
	} else {
		log.Infof("模型服务端已就绪，版本: %s", version)
	}

	// 5. 初始化 Repository 与 Service (依赖注入)
	chatRepo := repository.NewChatRepository(database.DB)
	screenshots := service.NewMinioScreenshotStore()
	chatService := service.NewChatService(llmClient, chatRepo, screenshots, cfg.Ollama.Model, cfg.Ollama.VisionModel)
	streamService := service.NewStreamService(llmClient, chatRepo)
	modelService := service.NewModelService(llmClient, database.RDB)

	// 6. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 7. 注册路由
	chatHandler := handler.NewChatHandler(chatService)
	streamHandler := handler.NewStreamHandler(streamService)
	wsHandler := handler.NewWSHandler(chatService, streamService, llmClient)
	modelHandler := handler.NewModelHandler(modelService)
	screenshotHandler := handler.NewScreenshotHandler(screenshots)

	apiV1 := r.Group("/api/v1")
	{
		chats := apiV1.Group("/chats")
		{
			chats.POST("", chatHandler.Create)
			chats.GET("", chatHandler.List)
			chats.DELETE("", chatHandler.Delete)
			chats.GET("/:chatId", chatHandler.Get)
			chats.POST("/:chatId/messages", chatHandler.AppendMessage)
		}

		chat := apiV1.Group("/chat")
		{
			chat.POST("/stream", streamHandler.Stream)
			chat.POST("/continue", streamHandler.Continue)
		}

		apiV1.GET("/models", modelHandler.List)
		apiV1.POST("/screenshots", screenshotHandler.Upload)
	}

	// WebSocket 聊天通道
	r.GET("/ws/chats/:chatId", wsHandler.Handle)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}

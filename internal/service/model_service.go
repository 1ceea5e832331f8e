package service

import (
	"context"
	"encoding/json"
	"time"

	"llamacoder-go/pkg/llm"
	"llamacoder-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

const (
	modelCacheKey = "ollama:models"
	modelCacheTTL = time.Minute
)

// ModelService 提供模型服务端可用模型的查询。
type ModelService interface {
	ListModels(ctx context.Context) ([]llm.ModelInfo, error)
}

type modelService struct {
	llmClient llm.Client
	rdb       *redis.Client
}

// NewModelService 创建一个新的 ModelService 实例。rdb 可为 nil（不缓存）。
func NewModelService(llmClient llm.Client, rdb *redis.Client) ModelService {
	return &modelService{llmClient: llmClient, rdb: rdb}
}

// ListModels 查询可用模型列表，结果在 Redis 中缓存一分钟。
// 缓存读写失败只记录日志，不影响请求结果。
func (s *modelService) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	if s.rdb != nil {
		cached, err := s.rdb.Get(ctx, modelCacheKey).Result()
		if err == nil {
			var models []llm.ModelInfo
			if json.Unmarshal([]byte(cached), &models) == nil {
				return models, nil
			}
		} else if err != redis.Nil {
			log.Warnf("读取模型列表缓存失败: %v", err)
		}
	}

	models, err := s.llmClient.ListModels(ctx)
	if err != nil {
		return nil, err
	}

	if s.rdb != nil {
		if data, err := json.Marshal(models); err == nil {
			if err := s.rdb.Set(ctx, modelCacheKey, data, modelCacheTTL).Err(); err != nil {
				log.Warnf("写入模型列表缓存失败: %v", err)
			}
		}
	}
	return models, nil
}

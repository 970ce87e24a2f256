package service

import (
	"context"
	"errors"
	"io"

	"ragcompare/backend/go/internal/apperr"
	"ragcompare/backend/go/internal/config"
	redisdb "ragcompare/backend/go/internal/database/redis"
	"ragcompare/backend/go/internal/embedding"
	"ragcompare/backend/go/internal/llm"
	"ragcompare/backend/go/internal/rag_service/rag/interfaces"
	"ragcompare/backend/go/internal/rag_service/rag/storages/vectorstore"
	"ragcompare/backend/go/pkg/logger"
)

// Check reports the health of one component.
type Check func(ctx context.Context) error

// Components are the external collaborators of the service.
type Components struct {
	Store    interfaces.VectorStore
	Embedder interfaces.EmbeddingModel
	Model    llm.LLM
	// ModelFactory builds comparison backends; nil uses llm.NewClient.
	ModelFactory ModelFactory
	Checks       map[string]Check
	closers      []io.Closer
}

// Close releases every component in reverse creation order.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewComponents 根据配置连接向量库、embedding 模型和推理后端。
//
// 参数:
//
//	ctx: 控制建立连接的上下文。
//	cfg: 已校验的应用配置。
//	log: 组件共用的日志记录器。
//
// 返回值:
//
//	*Components: 已就绪的组件，调用方负责 Close。
//	error: 任意组件初始化失败时返回，已创建的组件会被关闭。
func NewComponents(ctx context.Context, cfg *config.AppConfig, log *logger.Logger) (*Components, error) {
	c := &Components{Checks: make(map[string]Check)}
	if err := c.connect(ctx, cfg, log); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Components) connect(ctx context.Context, cfg *config.AppConfig, log *logger.Logger) error {
	switch cfg.Index.VectorStore {
	case "memory":
		c.Store = vectorstore.NewMemoryStore()
	default:
		client, err := redisdb.NewClient(ctx, cfg.Redis)
		if err != nil {
			return apperr.Wrap(apperr.KindConfig, err, "vector store")
		}
		c.closers = append(c.closers, client)
		store, err := vectorstore.NewRedisStore(client, cfg.Index.KeyPrefix, log.WithField("component", "vectorstore"))
		if err != nil {
			return apperr.Wrap(apperr.KindConfig, err, "vector store")
		}
		c.Store = store
		c.Checks["redis"] = func(ctx context.Context) error { return redisdb.HealthCheck(ctx, client) }
	}

	emb, err := embedding.NewEmdModel(ctx, cfg.Embedding)
	if err != nil {
		return apperr.Wrap(apperr.KindConfig, err, "embedding model")
	}
	if closer, ok := emb.(io.Closer); ok {
		c.closers = append(c.closers, closer)
	}
	c.Embedder = emb

	model, err := llm.NewClient(cfg.InferenceServer, llm.Target{})
	if err != nil {
		return apperr.Wrap(apperr.KindConfig, err, "inference server")
	}
	c.Model = model
	return nil
}

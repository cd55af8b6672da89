package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/tradedesk/internal/config"
	"github.com/aretw0/tradedesk/internal/metrics"
	mcpadapter "github.com/aretw0/tradedesk/pkg/adapters/mcp"
	"github.com/aretw0/tradedesk/pkg/adapters/memory"
	"github.com/aretw0/tradedesk/pkg/adapters/openai"
	"github.com/aretw0/tradedesk/pkg/adapters/redis"
	"github.com/aretw0/tradedesk/pkg/agent"
	"github.com/aretw0/tradedesk/pkg/persistence/middleware"
	"github.com/aretw0/tradedesk/pkg/ports"
	"github.com/aretw0/tradedesk/pkg/session"
)

// runtime bundles what the chat front ends share.
type runtime struct {
	connector ports.Connector
	sessions  *session.Manager
	close     func()
}

// newRuntime wires the tool server connector, the turn store, the optional
// Redis lock and the agent factory for the configured LLM provider.
func newRuntime(ctx context.Context, logger *slog.Logger, m *metrics.Metrics, style agent.Style) (*runtime, error) {
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}

	connector := mcpadapter.NewSSEConnector(cfg.Web.MCPURL(), mcpadapter.WithConnectorLogger(logger))

	var store ports.TurnStore = memory.NewStore()
	opts := []session.Option{session.WithLogger(logger), session.WithMetrics(m)}
	closeFn := func() {}

	if cfg.Redis.Addr != "" {
		rs := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redis.WithPrefix(cfg.Redis.Prefix),
			redis.WithTTL(cfg.Redis.TTL))
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rs.Ping(pingCtx); err != nil {
			_ = rs.Close()
			return nil, fmt.Errorf("redis at %s: %w", cfg.Redis.Addr, err)
		}
		store = rs
		opts = append(opts, session.WithLocker(redis.NewLocker(rs.Client(), cfg.Redis.Prefix+"lock:")))
		closeFn = func() {
			if err := rs.Close(); err != nil {
				logger.Warn("closing redis", "err", err)
			}
		}
		logger.Info("using redis turn store", "addr", cfg.Redis.Addr)
	}

	store, err := protectStore(store, cfg.Redis)
	if err != nil {
		closeFn()
		return nil, err
	}

	model := newModel(cfg.LLM)
	logger.Info("agent configured", "provider", cfg.LLM.Provider, "model", model.Name())

	newAgent := func(conn ports.ToolConnection) (ports.Agent, error) {
		return agent.New(model, conn,
			agent.WithStyle(style),
			agent.WithHistoryResponses(cfg.LLM.HistoryResponses),
			agent.WithToolCallLimit(cfg.LLM.ToolCallLimit),
			agent.WithLogger(logger),
		), nil
	}

	return &runtime{
		connector: connector,
		sessions:  session.NewManager(connector, newAgent, store, opts...),
		close:     closeFn,
	}, nil
}

// protectStore masks pasted credentials and, when a key is configured,
// seals turn content at rest.
func protectStore(store ports.TurnStore, rc config.RedisConfig) (ports.TurnStore, error) {
	redact, err := middleware.NewRedactionMiddleware(middleware.DefaultSecretPatterns)
	if err != nil {
		return nil, err
	}
	mws := []middleware.Middleware{redact}

	if rc.EncryptionKey != "" {
		active, err := middleware.ParseKey(rc.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("REDIS_ENCRYPTION_KEY: %w", err)
		}
		enc := middleware.EncryptionConfig{ActiveKey: active}
		for i, k := range rc.FallbackKeys {
			key, err := middleware.ParseKey(k)
			if err != nil {
				return nil, fmt.Errorf("fallback key %d: %w", i, err)
			}
			enc.FallbackKeys = append(enc.FallbackKeys, key)
		}
		seal, err := middleware.NewEncryptionMiddleware(enc)
		if err != nil {
			return nil, err
		}
		mws = append(mws, seal)
	}
	return middleware.Chain(store, mws...), nil
}

func newModel(c config.LLMConfig) *openai.Model {
	if c.Provider == config.ProviderGroq {
		return openai.NewGroq(c.GroqAPIKey, c.GroqModel)
	}
	return openai.New(c.OpenAIAPIKey, c.OpenAIModel, "")
}

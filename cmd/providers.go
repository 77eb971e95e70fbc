package cmd

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/leadrank/internal/ai"
	aigemini "github.com/spigell/leadrank/internal/ai/gemini"
	aiopenai "github.com/spigell/leadrank/internal/ai/openai"
	"github.com/spigell/leadrank/internal/embedding"
	embgemini "github.com/spigell/leadrank/internal/embedding/gemini"
	emblocal "github.com/spigell/leadrank/internal/embedding/local"
	embopenai "github.com/spigell/leadrank/internal/embedding/openai"
	"github.com/spigell/leadrank/internal/logger"
	"github.com/spigell/leadrank/internal/secrets"
)

// newEmbedder builds the configured embedding backend and fronts it with the
// batching gateway.
func newEmbedder(ctx context.Context, cfg *EmbeddingConfig, log *zap.Logger) (*embedding.Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedding configuration is required")
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider == "" {
		provider = "gemini"
	}

	var (
		backend embedding.Provider
		err     error
	)

	switch provider {
	case "gemini":
		if cfg.Gemini == nil {
			return nil, fmt.Errorf("gemini configuration is required when embedding provider is gemini")
		}

		apiKey, keyErr := secrets.Load(secrets.Source{
			Name: "gemini api key",
			File: cfg.Gemini.APIKeyFile,
			Env:  "GEMINI_API_KEY",
		})
		if keyErr != nil {
			return nil, fmt.Errorf("%w (set embedding.gemini.api-key-file or %s)", keyErr, geminiKeyEnv)
		}

		backend, err = embgemini.New(ctx, apiKey, cfg.Model)
	case "openai":
		if cfg.OpenAI == nil {
			return nil, fmt.Errorf("openai configuration is required when embedding provider is openai")
		}

		apiKey, keyErr := secrets.Load(secrets.Source{
			Name: "openai api key",
			File: cfg.OpenAI.APIKeyFile,
			Env:  "OPENAI_API_KEY",
		})
		if keyErr != nil {
			return nil, fmt.Errorf("%w (set embedding.openai.api-key-file or %s)", keyErr, openaiKeyEnv)
		}

		backend, err = embopenai.New(apiKey, cfg.Model, cfg.OpenAI.BaseURL)
	case "local":
		if cfg.Local == nil {
			return nil, fmt.Errorf("local configuration is required when embedding provider is local")
		}

		backend, err = emblocal.New(cfg.Local.BaseURL, cfg.Model, cfg.Local.APIKey)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("building %s embedding backend: %w", provider, err)
	}

	gatewayLogger := logger.WithFields(log, logger.StringFields(
		logger.StringField{Key: logger.FieldProvider, Value: provider},
		logger.StringField{Key: logger.FieldModel, Value: cfg.Model},
	)...)

	return embedding.NewGateway(backend, embedding.GatewayConfig{
		BatchSize:         cfg.BatchSize,
		MaxRetries:        cfg.MaxRetries,
		RequestsPerMinute: cfg.RequestsPerMinute,
	}, gatewayLogger), nil
}

// newProposer builds the configured generative backend for persona rewrites.
func newProposer(ctx context.Context, cfg *AIConfig, log *zap.Logger) (ai.Proposer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ai configuration is required")
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider == "" {
		provider = "gemini"
	}

	switch provider {
	case "gemini":
		if cfg.Gemini == nil {
			return nil, fmt.Errorf("gemini configuration is required when ai provider is gemini")
		}

		apiKey, err := secrets.Load(secrets.Source{
			Name: "gemini api key",
			File: cfg.Gemini.APIKeyFile,
			Env:  "GEMINI_API_KEY",
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or %s)", err, geminiKeyEnv)
		}

		genLogger := logger.WithFields(log, logger.StringFields(
			logger.StringField{Key: logger.FieldProvider, Value: provider},
			logger.StringField{Key: logger.FieldModel, Value: cfg.Gemini.Model},
		)...)

		return aigemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model, cfg.Gemini.MaxRetries, genLogger)
	case "openai":
		if cfg.OpenAI == nil {
			return nil, fmt.Errorf("openai configuration is required when ai provider is openai")
		}

		apiKey, err := secrets.Load(secrets.Source{
			Name: "openai api key",
			File: cfg.OpenAI.APIKeyFile,
			Env:  "OPENAI_API_KEY",
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set ai.openai.api-key-file or %s)", err, openaiKeyEnv)
		}

		genLogger := logger.WithFields(log, logger.StringFields(
			logger.StringField{Key: logger.FieldProvider, Value: provider},
			logger.StringField{Key: logger.FieldModel, Value: cfg.OpenAI.Model},
		)...)

		return aiopenai.NewGenerator(apiKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL, genLogger)
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
}

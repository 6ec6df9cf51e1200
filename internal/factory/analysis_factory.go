package factory

import (
	"fmt"

	"github.com/mailsentry/mailsentry/internal/adapters/analysis"
	"github.com/mailsentry/mailsentry/internal/config"
	"github.com/mailsentry/mailsentry/internal/core"
	"go.uber.org/zap"
)

// AnalysisFactory creates analysis clients
type AnalysisFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewAnalysisFactory creates a new analysis factory
func NewAnalysisFactory(cfg *config.Config, logger *zap.Logger) *AnalysisFactory {
	return &AnalysisFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateAnalysisClient creates an analysis client based on the configuration
func (f *AnalysisFactory) CreateAnalysisClient() (core.AnalysisClient, error) {
	provider := f.cfg.GetString("analysis.provider")

	switch provider {
	case "remote":
		timeout, err := f.cfg.GetDuration("analysis.timeout")
		if err != nil {
			return nil, fmt.Errorf("invalid analysis timeout: %w", err)
		}
		return analysis.NewRemoteClient(f.cfg.GetString("analysis.base_url"), timeout, f.logger), nil
	case "openai":
		apiKey := f.cfg.GetString("openai.api_key")
		if apiKey == "" {
			return nil, fmt.Errorf("openai API key is required")
		}
		return analysis.NewOpenAIClient(
			apiKey,
			f.cfg.GetString("openai.model_name"),
			f.cfg.GetInt("openai.max_tokens"),
			float32(f.cfg.GetFloat64("openai.temperature")),
			float32(f.cfg.GetFloat64("openai.top_p")),
			f.cfg.GetInt("openai.max_body_size"),
			f.logger,
		), nil
	default:
		return nil, fmt.Errorf("unsupported analysis provider: %s", provider)
	}
}

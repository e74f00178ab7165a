package llm

import (
	"context"

	"codegen/internal/config"
)

// Client минимальный публичный интерфейс клиента сервиса инференса.
type Client interface {
	Generate(ctx context.Context, prompt string, params Parameters) (string, error)
}

// Parameters задают генерацию и одинаковы для всех запросов.
type Parameters struct {
	ModelID           string
	DecodingMethod    string
	MinNewTokens      int
	MaxNewTokens      int
	RepetitionPenalty float64
	TopP              float64
	TopK              int
	Temperature       float64
	Moderation        Moderation
}

// Moderation включает фильтр HAP (hate, abuse, profanity) на стороне сервиса.
type Moderation struct {
	Input     bool
	Output    bool
	Threshold float64
}

func ParametersFromConfig(cfg config.GenAIConfig) Parameters {
	return Parameters{
		ModelID:           cfg.ModelID,
		DecodingMethod:    cfg.DecodingMethod,
		MinNewTokens:      cfg.MinNewTokens,
		MaxNewTokens:      cfg.MaxNewTokens,
		RepetitionPenalty: cfg.RepetitionPenalty,
		TopP:              cfg.TopP,
		TopK:              cfg.TopK,
		Temperature:       cfg.Temperature,
		Moderation: Moderation{
			Input:     cfg.Moderation.HAPInput,
			Output:    cfg.Moderation.HAPOutput,
			Threshold: cfg.Moderation.HAPThreshold,
		},
	}
}

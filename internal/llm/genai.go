package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"codegen/internal/config"
	"codegen/internal/retry"
)

var (
	ErrInvalidModel  = errors.New("model is required")
	ErrEmptyResponse = errors.New("empty response from model")
)

const defaultGenerateTimeout = 60 * time.Second

// GenAIClient ходит в сервис инференса с API вида POST /v1/generate.
// Генерация неидемпотентна, поэтому попытку, упавшую по таймауту, клиент не повторяет.
type GenAIClient struct {
	apiKey     string
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	policy     retry.Policy
	logger     *slog.Logger
}

func NewGenAIClient(cfg config.GenAIConfig, httpClient *http.Client, logger *slog.Logger) *GenAIClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGenerateTimeout
	}
	return &GenAIClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.APIURL, "/"),
		timeout:    timeout,
		httpClient: httpClient,
		policy:     retry.DefaultPolicy(),
		logger:     logger,
	}
}

// WithRetryPolicy заменяет политику повторов (в основном для тестов).
// Таймауты попыток не повторяются независимо от переданной политики.
func (c *GenAIClient) WithRetryPolicy(p retry.Policy) *GenAIClient {
	p.RetryTimeouts = false
	c.policy = p
	return c
}

// Generate укладывает все попытки вместе с паузами между ними в genai.timeout.
func (c *GenAIClient) Generate(ctx context.Context, prompt string, params Parameters) (string, error) {
	if params.ModelID == "" {
		return "", ErrInvalidModel
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	buf, err := json.Marshal(newGenerateRequest(prompt, params))
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	resp, err := retry.Do(ctx, c.policy, c.logger, func(ctx context.Context) (retry.Response, error) {
		return c.doRequest(ctx, buf)
	})
	if err != nil {
		return "", fmt.Errorf("genai request failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(resp.Body))
	}

	var parsed generateResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return "", ErrEmptyResponse
	}
	return parsed.Results[0].GeneratedText, nil
}

func (c *GenAIClient) doRequest(ctx context.Context, body []byte) (retry.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return retry.Response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retry.Response{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.Response{}, fmt.Errorf("read response: %w", err)
	}
	return retry.Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: bodyBytes}, nil
}

type generateRequest struct {
	ModelID     string             `json:"model_id"`
	Inputs      []string           `json:"inputs"`
	Parameters  generateParameters `json:"parameters"`
	Moderations moderations        `json:"moderations"`
}

type generateParameters struct {
	DecodingMethod    string  `json:"decoding_method"`
	MinNewTokens      int     `json:"min_new_tokens"`
	MaxNewTokens      int     `json:"max_new_tokens"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
	TopP              float64 `json:"top_p"`
	TopK              int     `json:"top_k"`
	Temperature       float64 `json:"temperature"`
}

type moderations struct {
	HAP hapModeration `json:"hap"`
}

type hapModeration struct {
	Input     bool    `json:"input"`
	Threshold float64 `json:"threshold"`
	Output    bool    `json:"output"`
}

type generateResponse struct {
	Results []struct {
		GeneratedText string `json:"generated_text"`
		StopReason    string `json:"stop_reason,omitempty"`
	} `json:"results"`
}

func newGenerateRequest(prompt string, p Parameters) generateRequest {
	return generateRequest{
		ModelID: p.ModelID,
		Inputs:  []string{prompt},
		Parameters: generateParameters{
			DecodingMethod:    p.DecodingMethod,
			MinNewTokens:      p.MinNewTokens,
			MaxNewTokens:      p.MaxNewTokens,
			RepetitionPenalty: p.RepetitionPenalty,
			TopP:              p.TopP,
			TopK:              p.TopK,
			Temperature:       p.Temperature,
		},
		Moderations: moderations{HAP: hapModeration{
			Input:     p.Moderation.Input,
			Threshold: p.Moderation.Threshold,
			Output:    p.Moderation.Output,
		}},
	}
}

package ai

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type openAIConfig struct {
	APIKey     string `json:"api_key"`
	BaseURL    string `json:"base_url"`
	Dimensions int    `json:"dimensions"`
}

type openAIProvider struct {
	name       string
	client     *openai.Client
	configured bool
	dimensions int
}

func newOpenAIProvider(name string, cfg *openAIConfig, transport http.RoundTripper) *openAIProvider {
	apiKey := strings.TrimSpace(cfg.APIKey)
	clientCfg := openai.DefaultConfig(apiKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.BaseURL = strings.TrimRight(base, "/")
	}
	if transport != nil {
		clientCfg.HTTPClient = &http.Client{Transport: transport}
	}
	return &openAIProvider{
		name:       name,
		client:     openai.NewClientWithConfig(clientCfg),
		configured: apiKey != "",
		dimensions: cfg.Dimensions,
	}
}

func (p *openAIProvider) Name() string {
	return p.name
}

func (p *openAIProvider) Generate(ctx context.Context, model string, req *GenerateRequest) (string, error) {
	if !p.configured {
		return "", ErrUnavailable
	}
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})
	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: openAITemperature(req.Temperature),
	}
	if req.Schema != nil {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:        req.Schema.Name,
				Description: req.Schema.Description,
				Schema:      req.Schema.Definition,
				Strict:      true,
			},
		}
	}
	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s response has no choices", p.name)
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return "", fmt.Errorf("%s refused: %s", p.name, msg.Refusal)
	}
	return strings.TrimSpace(msg.Content), nil
}

func (p *openAIProvider) Embed(ctx context.Context, model string, text string, _ string) ([]float32, error) {
	if !p.configured {
		return nil, ErrUnavailable
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(model),
		Dimensions: p.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("%s embeddings: %w", p.name, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%s response has no embeddings", p.name)
	}
	return resp.Data[0].Embedding, nil
}

// openAITemperature keeps a zero temperature on the wire. The client drops
// zero valued fields, which would leave the server default in place.
func openAITemperature(t float32) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

func createOpenAIFactory(args interface{}) (IProvider, error) {
	cfg := &openAIConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	return newOpenAIProvider("openai", cfg, nil), nil
}

func init() {
	Register("openai", createOpenAIFactory)
}

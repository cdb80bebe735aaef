package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxTokens = 4096

type anthropicConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

// anthropicProvider obtains structured output by offering a single tool whose
// input schema is the response schema and reading back the tool input.
type anthropicProvider struct {
	client     *anthropic.Client
	configured bool
}

func (p *anthropicProvider) Name() string {
	return "anthropic"
}

func (p *anthropicProvider) Generate(ctx context.Context, model string, req *GenerateRequest) (string, error) {
	if !p.configured {
		return "", ErrUnavailable
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(anthropicMaxTokens),
		Temperature: anthropic.Float(float64(req.Temperature)),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))},
	}
	system := req.System
	if req.Schema != nil {
		params.Tools = []anthropic.ToolUnionParam{{
			OfTool: &anthropic.ToolParam{
				Name:        req.Schema.Name,
				Description: anthropic.String(req.Schema.Description),
				InputSchema: anthropic.ToolInputSchemaParam{Properties: req.Schema.Definition.Properties},
			},
		}}
		system = strings.TrimSpace(system + "\n\nRespond only by calling the " + req.Schema.Name + " tool.")
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	var text strings.Builder
	for _, content := range message.Content {
		switch content.Type {
		case "tool_use":
			if req.Schema != nil && content.Name == req.Schema.Name {
				return string(content.Input), nil
			}
		case "text":
			text.WriteString(content.Text)
		}
	}
	return strings.TrimSpace(text.String()), nil
}

func (p *anthropicProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	return nil, ErrEmbedUnsupported
}

func createAnthropicFactory(args interface{}) (IProvider, error) {
	cfg := &anthropicConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	client := anthropic.NewClient(opts...)
	return &anthropicProvider{client: &client, configured: apiKey != ""}, nil
}

func init() {
	Register("anthropic", createAnthropicFactory)
}

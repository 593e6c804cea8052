package extraction

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	apperrors "github.com/auditeng/compliance/internal/errors"
)

// anthropicProvider calls the Anthropic API directly, the default
// backend selected when Config.LLM.Provider == "anthropic".
type anthropicProvider struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicProvider builds a Provider backed by the direct Anthropic
// API.
func NewAnthropicProvider(apiKey, model string) Provider {
	return &anthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

func (p *anthropicProvider) Call(ctx context.Context, req Request) (json.RawMessage, Metadata, error) {
	content := make([]anthropic.ContentBlockParamUnion, 0, len(req.TextBlocks)+len(req.ImageBlocks))
	for _, t := range req.TextBlocks {
		content = append(content, anthropic.NewTextBlock(t))
	}
	for _, img := range req.ImageBlocks {
		content = append(content, anthropic.NewImageBlockBase64(img.MediaType, img.base64()))
	}

	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: req.SystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(content...),
		},
	})
	if err != nil {
		return nil, Metadata{}, apperrors.Wrap(err, apperrors.ErrorTypeExternal, "anthropic extraction call").
			WithDetailsf("schema=%s", req.SchemaName)
	}

	var raw json.RawMessage
	for _, block := range msg.Content {
		if text := block.AsAny(); text != nil {
			if tb, ok := text.(anthropic.TextBlock); ok {
				raw = json.RawMessage(tb.Text)
				break
			}
		}
	}
	if len(raw) == 0 {
		return nil, Metadata{}, apperrors.New(apperrors.ErrorTypeExternal, "anthropic response contained no text block")
	}

	meta := Metadata{
		ModelVersion:  string(p.model),
		PromptVersion: "v1",
		InputTokens:   int(msg.Usage.InputTokens),
		OutputTokens:  int(msg.Usage.OutputTokens),
	}
	return raw, meta, nil
}

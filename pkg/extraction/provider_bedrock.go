package extraction

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	apperrors "github.com/auditeng/compliance/internal/errors"
)

// bedrockProvider calls Bedrock-hosted Claude, the alternate
// backend selected when Config.LLM.Provider == "bedrock", behind the
// same Provider contract as the direct Anthropic client.
type bedrockProvider struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockProvider builds a Provider backed by Bedrock's invoke-model
// API in the given region.
func NewBedrockProvider(ctx context.Context, region, modelID string) (Provider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeExternal, "load AWS config for bedrock")
	}
	return &bedrockProvider{
		client:  bedrockruntime.NewFromConfig(awsCfg),
		modelID: modelID,
	}, nil
}

// bedrockContentBlock mirrors the Anthropic-on-Bedrock wire content
// shape: {type, text} or {type, source}.
type bedrockContentBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *bedrockImgSource `json:"source,omitempty"`
}

type bedrockImgSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type bedrockInvokeBody struct {
	AnthropicVersion string                `json:"anthropic_version"`
	MaxTokens        int                   `json:"max_tokens"`
	System           string                `json:"system"`
	Messages         []bedrockInvokeMessage `json:"messages"`
}

type bedrockInvokeMessage struct {
	Role    string                `json:"role"`
	Content []bedrockContentBlock `json:"content"`
}

type bedrockInvokeResponse struct {
	Content []bedrockContentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *bedrockProvider) Call(ctx context.Context, req Request) (json.RawMessage, Metadata, error) {
	content := make([]bedrockContentBlock, 0, len(req.TextBlocks)+len(req.ImageBlocks))
	for _, t := range req.TextBlocks {
		content = append(content, bedrockContentBlock{Type: "text", Text: t})
	}
	for _, img := range req.ImageBlocks {
		content = append(content, bedrockContentBlock{
			Type: "image",
			Source: &bedrockImgSource{
				Type:      "base64",
				MediaType: img.MediaType,
				Data:      base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}

	body := bedrockInvokeBody{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        4096,
		System:           req.SystemPrompt,
		Messages:         []bedrockInvokeMessage{{Role: "user", Content: content}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, Metadata{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "encode bedrock request")
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.modelID),
		Body:        payload,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, Metadata{}, apperrors.Wrap(err, apperrors.ErrorTypeExternal, "bedrock invoke-model call").
			WithDetailsf("schema=%s", req.SchemaName)
	}

	var resp bedrockInvokeResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, Metadata{}, apperrors.Wrap(err, apperrors.ErrorTypeExternal, "decode bedrock response envelope")
	}

	var raw json.RawMessage
	for _, block := range resp.Content {
		if block.Type == "text" {
			raw = json.RawMessage(block.Text)
			break
		}
	}
	if len(raw) == 0 {
		return nil, Metadata{}, apperrors.New(apperrors.ErrorTypeExternal, "bedrock response contained no text block")
	}

	meta := Metadata{
		ModelVersion:  p.modelID,
		PromptVersion: "v1",
		InputTokens:   resp.Usage.InputTokens,
		OutputTokens:  resp.Usage.OutputTokens,
	}
	return raw, meta, nil
}

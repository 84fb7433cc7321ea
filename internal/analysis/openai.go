package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const systemPrompt = "You are a nutritional assistant API. You output only valid JSON."

const promptTemplate = `Analyze the following food log entry.
Return a valid JSON object (and ONLY JSON) with this structure:
{
    "items": [
        {
            "name": "food name",
            "quantity": "estimated quantity",
            "calories": number,
            "protein": number,
            "carbs": number,
            "fat": number
        }
    ],
    "total_calories": number,
    "total_protein": number,
    "total_carbs": number,
    "total_fat": number,
    "mood_analysis": "brief inference of mood based on text context (e.g., stressed, rushed, happy, neutral)",
    "confidence": "high|medium|low"
}

If a food cannot be identified, include an item named "` + UnidentifiedItemName + `" with your best estimate and set confidence to "low".
%s`

// ImageResolver turns a stored image reference into a URL the model can fetch.
type ImageResolver interface {
	ResolveImage(ctx context.Context, owner int64, ref string) (string, error)
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAIProvider implements Provider with the chat completions API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	images ImageResolver
	logger *slog.Logger
}

func NewOpenAIProvider(cfg OpenAIConfig, images ImageResolver, logger *slog.Logger) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		images: images,
		logger: logger,
	}
}

func buildPrompt(req Request) string {
	var b strings.Builder
	if text := strings.TrimSpace(req.RawText); text != "" {
		fmt.Fprintf(&b, "\nFood Log: %q\n", text)
	}
	if strings.TrimSpace(req.ImageRef) != "" {
		b.WriteString("\nA photo of the meal is attached. Identify the foods and portions it shows.\n")
	}
	return fmt.Sprintf(promptTemplate, b.String())
}

func (p *OpenAIProvider) Analyze(ctx context.Context, req Request) (*Result, error) {
	if req.Empty() {
		return nil, ErrEmptyRequest
	}

	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	prompt := buildPrompt(req)
	if ref := strings.TrimSpace(req.ImageRef); ref != "" {
		if p.images == nil {
			return nil, fmt.Errorf("resolve image: no image resolver configured")
		}
		url, err := p.images.ResolveImage(ctx, req.Owner, ref)
		if err != nil {
			return nil, fmt.Errorf("resolve image: %w", err)
		}
		user.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
				URL:    url,
				Detail: openai.ImageURLDetailAuto,
			}},
		}
	} else {
		user.Content = prompt
	}

	p.logger.Debug("requesting analysis", "model", p.model, "has_text", req.RawText != "", "has_image", req.ImageRef != "")
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			user,
		},
		// go-openai drops a zero temperature, leaving the API default of 1.
		Temperature: math.SmallestNonzeroFloat32,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrUnparseable)
	}
	p.logger.Debug("analysis received", "finish_reason", resp.Choices[0].FinishReason)

	return ParseResult(resp.Choices[0].Message.Content)
}

// PassthroughImages resolves references that are already fetchable URLs.
type PassthroughImages struct{}

func (PassthroughImages) ResolveImage(_ context.Context, _ int64, ref string) (string, error) {
	if strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "data:image/") {
		return ref, nil
	}
	return "", fmt.Errorf("image reference %q is not a URL and no photo storage is configured", ref)
}

// Package openai implements [provider.Adapter] against an OpenAI-compatible
// API. Chat, moderation, and model listing go through the official SDK; the
// audio endpoints are called directly over HTTP because the pipeline needs
// raw request/response bodies (multipart uploads in, encoded audio out).
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/internal/provider"
)

// defaultTimeout bounds every upstream call. Synthesis of a long sentence is
// the slowest operation and comfortably fits under a minute.
const defaultTimeout = 60 * time.Second

var _ provider.Adapter = (*Adapter)(nil)

// Adapter implements [provider.Adapter] using the OpenAI API.
type Adapter struct {
	client     oai.Client
	httpClient *http.Client
	baseURL    string
	apiKey     string

	sttModel  string
	chatModel string
	ttsModel  string
	voice     string
}

// Option is a functional option for Adapter.
type Option func(*Adapter)

// WithHTTPClient replaces the HTTP client used for the audio endpoints.
// Useful in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) {
		a.httpClient = c
	}
}

// WithTimeout overrides the per-request timeout for all upstream calls.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		a.httpClient.Timeout = d
	}
}

// New constructs an Adapter from the provider configuration. An empty API
// key is permitted; upstream calls will then fail and the pipeline degrades
// to its no-provider behaviour.
func New(cfg config.ProviderConfig, opts ...Option) *Adapter {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = strings.TrimSuffix(config.DefaultBaseURL, "/")
	}

	a := &Adapter{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		sttModel:   cfg.STTModel,
		chatModel:  cfg.ChatModel,
		ttsModel:   cfg.TTSModel,
		voice:      cfg.Voice,
	}
	for _, o := range opts {
		o(a)
	}

	a.client = oai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(a.httpClient),
	)
	return a
}

// Chat implements [provider.Adapter].
func (a *Adapter) Chat(ctx context.Context, req provider.ChatRequest) (string, error) {
	resp, err := a.client.Chat.Completions.New(ctx, a.buildParams(req))
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// ChatStream implements [provider.Adapter].
func (a *Adapter) ChatStream(ctx context.Context, req provider.ChatRequest) (<-chan provider.Token, error) {
	stream := a.client.Chat.Completions.NewStreaming(ctx, a.buildParams(req))
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	ch := make(chan provider.Token, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			select {
			case ch <- provider.Token{Text: text}:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- provider.Token{Err: fmt.Errorf("openai: stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// Moderate implements [provider.Adapter].
func (a *Adapter) Moderate(ctx context.Context, text string) (provider.Moderation, error) {
	resp, err := a.client.Moderations.New(ctx, oai.ModerationNewParams{
		Input: oai.ModerationNewParamsInputUnion{
			OfString: oai.String(text),
		},
	})
	if err != nil {
		return provider.Moderation{}, fmt.Errorf("openai: moderation: %w", err)
	}
	if len(resp.Results) == 0 {
		return provider.Moderation{}, fmt.Errorf("openai: moderation returned no results")
	}

	res := resp.Results[0]
	out := provider.Moderation{Flagged: res.Flagged}
	for _, c := range []struct {
		name string
		on   bool
	}{
		{"harassment", res.Categories.Harassment},
		{"harassment/threatening", res.Categories.HarassmentThreatening},
		{"hate", res.Categories.Hate},
		{"hate/threatening", res.Categories.HateThreatening},
		{"illicit", res.Categories.Illicit},
		{"illicit/violent", res.Categories.IllicitViolent},
		{"self-harm", res.Categories.SelfHarm},
		{"self-harm/instructions", res.Categories.SelfHarmInstructions},
		{"self-harm/intent", res.Categories.SelfHarmIntent},
		{"sexual", res.Categories.Sexual},
		{"sexual/minors", res.Categories.SexualMinors},
		{"violence", res.Categories.Violence},
		{"violence/graphic", res.Categories.ViolenceGraphic},
	} {
		if c.on {
			out.Categories = append(out.Categories, c.name)
		}
	}
	return out, nil
}

// ListModels implements [provider.Adapter].
func (a *Adapter) ListModels(ctx context.Context) ([]string, error) {
	page, err := a.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("openai: list models: %w", err)
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// buildParams converts a ChatRequest into OpenAI SDK params.
func (a *Adapter) buildParams(req provider.ChatRequest) oai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = a.chatModel
	}

	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, oai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, oai.AssistantMessage(m.Content))
		default:
			messages = append(messages, oai.UserMessage(m.Content))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params
}

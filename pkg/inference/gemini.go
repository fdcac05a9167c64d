package inference

import (
	"context"
	"errors"
	"iter"
	"log/slog"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/genai"
)

const providerGemini = "gemini"

var _ Backend = (*Gemini)(nil)

// Gemini streams responses from the Gemini API.
type Gemini struct {
	client *genai.Client
	config *Config
	logger *slog.Logger
}

// NewGemini creates a Gemini backend.
func NewGemini(ctx context.Context, opts ...Option) (*Gemini, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, WrapError(providerGemini, err)
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, WrapError(providerGemini, err)
	}

	return &Gemini{
		client: client,
		config: cfg,
		logger: cfg.Logger.With("component", "inference.gemini", "model", cfg.Model),
	}, nil
}

// Name returns the provider name.
func (g *Gemini) Name() string { return providerGemini }

// Stream generates a response for req, yielding text and function calls as
// they arrive.
func (g *Gemini) Stream(ctx context.Context, req *Request) iter.Seq2[Fragment, error] {
	cfg := &genai.GenerateContentConfig{
		Tools: toGenaiTools(req.Tools),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if g.config.Temperature > 0 {
		t := float32(g.config.Temperature)
		cfg.Temperature = &t
	}
	if g.config.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(g.config.MaxTokens)
	}

	return func(yield func(Fragment, error) bool) {
		stream := g.client.Models.GenerateContentStream(ctx, g.config.Model, genai.Text(req.Prompt), cfg)
		for resp, err := range stream {
			if err != nil {
				yield(Fragment{}, convertError(err))
				return
			}
			frag, ok := fragmentOf(resp)
			if !ok {
				continue
			}
			if !yield(frag, nil) {
				return
			}
		}
	}
}

func fragmentOf(resp *genai.GenerateContentResponse) (Fragment, bool) {
	var frag Fragment
	if resp == nil || len(resp.Candidates) == 0 {
		return frag, false
	}
	content := resp.Candidates[0].Content
	if content == nil {
		return frag, false
	}
	for _, p := range content.Parts {
		if p == nil || p.Thought {
			continue
		}
		frag.Text += p.Text
		if fc := p.FunctionCall; fc != nil {
			frag.ToolCalls = append(frag.ToolCalls, ToolCall{
				ID:        fc.ID,
				Name:      fc.Name,
				Arguments: fc.Args,
			})
		}
	}
	return frag, frag.Text != "" || len(frag.ToolCalls) > 0
}

func convertError(err error) error {
	var ae *apierror.APIError
	if errors.As(err, &ae) {
		return &APIError{
			StatusCode: ae.HTTPCode(),
			Reason:     ae.Reason(),
			Provider:   providerGemini,
			Err:        ae.Unwrap(),
		}
	}
	return err
}

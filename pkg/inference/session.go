package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// FollowUpHeader introduces tool results in a follow-up prompt.
const FollowUpHeader = "Function call results:"

// Session is one conversation's view of a backend: a fixed persona and
// tool set. It keeps no history of its own; callers pass the full
// conversation on every round.
type Session struct {
	backend Backend
	persona string
	tools   []Declaration
	timeout time.Duration
	logger  *slog.Logger
}

// NewSession creates a session. tools may be empty.
func NewSession(backend Backend, persona string, tools []Declaration, opts ...Option) *Session {
	cfg := &Config{}
	cfg.Apply(opts...)
	return &Session{
		backend: backend,
		persona: persona,
		tools:   tools,
		timeout: cfg.Timeout,
		logger:  cfg.Logger.With("component", "inference.session", "backend", backend.Name()),
	}
}

// Generate runs one round with tools attached. If the result carries tool
// calls its text is preliminary.
func (s *Session) Generate(ctx context.Context, prompt string) (*Result, error) {
	return s.collect(ctx, &Request{System: s.persona, Prompt: prompt, Tools: s.tools})
}

// FollowUp runs the second round: the conversation plus tool results, with
// no tools attached so the model has to answer in text.
func (s *Session) FollowUp(ctx context.Context, prompt string, outputs []ToolOutput) (*Result, error) {
	res, err := s.collect(ctx, &Request{System: s.persona, Prompt: FollowUpPrompt(prompt, outputs)})
	if err != nil {
		return nil, err
	}
	if res.HasToolCalls() {
		s.logger.Warn("tool calls in follow-up round ignored", "count", len(res.ToolCalls))
		res.ToolCalls = nil
	}
	return res, nil
}

func (s *Session) collect(ctx context.Context, req *Request) (*Result, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	var text strings.Builder
	res := &Result{}
	for frag, err := range s.backend.Stream(ctx, req) {
		if err != nil {
			return nil, WrapError(s.backend.Name(), err)
		}
		res.Fragments++
		text.WriteString(frag.Text)
		res.ToolCalls = append(res.ToolCalls, frag.ToolCalls...)
	}
	res.Text = strings.TrimSpace(text.String())

	s.logger.Debug("generation round complete",
		"fragments", res.Fragments,
		"chars", len(res.Text),
		"tool_calls", len(res.ToolCalls),
		"latency", time.Since(start))
	return res, nil
}

// FollowUpPrompt appends tool results to prompt, one "- name: json" line
// per call.
func FollowUpPrompt(prompt string, outputs []ToolOutput) string {
	var b strings.Builder
	b.WriteString(prompt)
	if prompt != "" {
		b.WriteString("\n\n")
	}
	b.WriteString(FollowUpHeader)
	for _, o := range outputs {
		data, err := json.Marshal(o.Result)
		if err != nil {
			data = []byte(fmt.Sprintf("%q", fmt.Sprint(o.Result)))
		}
		fmt.Fprintf(&b, "\n- %s: %s", o.Name, data)
	}
	return b.String()
}

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/go-tony/pkg/inference"
	"github.com/teslashibe/go-tony/pkg/tools"
)

// ErrEmptyReply means the model answered with no text. It is a normal
// outcome and is not retried.
var ErrEmptyReply = errors.New("session: no response generated")

// ReplyResult is a finished reply.
type ReplyResult struct {
	Text    string
	Outputs []inference.ToolOutput

	Generate time.Duration
	Tools    time.Duration
}

// Reply generates an answer to prompt, running one tool round when the
// model asks for it.
func Reply(ctx context.Context, gen Generator, dispatcher Dispatcher, prompt string) (*ReplyResult, error) {
	start := time.Now()
	res, err := gen.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("session: generate: %w", err)
	}
	out := &ReplyResult{Generate: time.Since(start)}

	if res.HasToolCalls() {
		start = time.Now()
		out.Outputs = make([]inference.ToolOutput, 0, len(res.ToolCalls))
		for _, call := range res.ToolCalls {
			out.Outputs = append(out.Outputs, inference.ToolOutput{
				Name:      call.Name,
				Arguments: call.Arguments,
				Result:    dispatch(ctx, dispatcher, call),
			})
		}
		res, err = gen.FollowUp(ctx, prompt, out.Outputs)
		out.Tools = time.Since(start)
		if err != nil {
			return out, fmt.Errorf("session: follow-up: %w", err)
		}
	}

	if res.Empty() {
		return out, ErrEmptyReply
	}
	out.Text = res.Text
	return out, nil
}

func dispatch(ctx context.Context, d Dispatcher, call inference.ToolCall) tools.Result {
	if d == nil {
		return tools.Fail("Unknown function: " + call.Name)
	}
	return d.Dispatch(ctx, call.Name, call.Arguments)
}

// Exchange runs one conversational turn against h: the user text is
// appended, the reply generated from the whole history, and the reply
// appended. The user turn stays in the history when generation fails.
// Exchanges on the same history run one at a time.
func Exchange(ctx context.Context, h *History, gen Generator, dispatcher Dispatcher, text string) (*ReplyResult, error) {
	h.exchange.Lock()
	defer h.exchange.Unlock()

	h.Append(RoleUser, text)
	res, err := Reply(ctx, gen, dispatcher, h.Serialize())
	if err != nil {
		return res, err
	}
	h.Append(RoleAssistant, res.Text)
	return res, nil
}

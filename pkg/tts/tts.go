// Package tts streams synthesized speech from Murf.
//
// Stream opens one short-lived websocket per call and yields base64 audio
// chunks as the service produces them, each tagged with its sequence
// number. Synthesize is the one-shot REST variant that returns a URL to a
// finished audio file.
//
// Example usage:
//
//	murf, _ := tts.NewMurf(tts.WithAPIKey(os.Getenv("MURF_API_KEY")))
//	stream, _ := murf.Stream(ctx, "Good evening, Sir.", uuid.NewString())
//	defer stream.Close()
//	for {
//	    chunk, err := stream.Read()
//	    if err != nil || chunk == nil {
//	        break
//	    }
//	    send(chunk)
//	}
package tts

import "context"

// Streamer starts a synthesis stream for one piece of text.
type Streamer interface {
	Stream(ctx context.Context, text, contextID string) (AudioStream, error)
}

// AudioStream is a lazy sequence of audio chunks.
// Callers should read until Read returns nil, then call Close.
type AudioStream interface {
	// Read returns the next chunk, or nil when the stream has ended.
	Read() (*Chunk, error)

	// Close releases the connection. Safe to call more than once.
	Close() error

	// Completion reports why and after how many chunks the stream ended.
	// It is only meaningful after Read has returned nil.
	Completion() Completion
}

// Chunk is one base64-encoded audio payload.
type Chunk struct {
	Audio     string
	Sequence  int
	First     bool
	ContextID string
}

// Reason says why a stream ended.
type Reason int

const (
	// ReasonFinal means the service signalled the last chunk.
	ReasonFinal Reason = iota
	// ReasonTimeout means no message arrived within the read timeout.
	ReasonTimeout
	// ReasonClosed means the connection closed without a final signal.
	ReasonClosed
	// ReasonError means the service reported an error.
	ReasonError
)

// String returns a human-readable reason.
func (r Reason) String() string {
	switch r {
	case ReasonFinal:
		return "final"
	case ReasonTimeout:
		return "timeout"
	case ReasonClosed:
		return "closed"
	case ReasonError:
		return "error"
	default:
		return "unknown"
	}
}

// Completion summarizes a finished stream.
type Completion struct {
	Reason Reason
	Chunks int
	// Err carries the service's message when Reason is ReasonError.
	Err error
}

// Complete reports whether the audio should be treated as fully delivered.
// Timeouts and closes count as complete with whatever arrived.
func (c Completion) Complete() bool {
	return c.Reason != ReasonError
}

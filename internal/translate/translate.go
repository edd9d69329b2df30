// Package translate converts upstream delta events into OpenAI-compatible
// response shapes. The providers decode their own wire payloads; this package
// owns phase interpretation, thinking-tag rewriting, and chunk framing so
// both upstream dialects produce identical client-visible streams.
package translate

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ztoapi/internal/domain"
)

// Phase classifies one upstream delta.
type Phase int

const (
	PhaseContent Phase = iota
	PhaseThinking
	PhaseDone
	PhaseError
)

// DeltaEvent is the provider-agnostic form of one upstream event.
type DeltaEvent struct {
	Phase   Phase
	Content string
	// Done marks an event that carries content and terminates the stream in
	// one frame; the content is applied before the stream closes.
	Done bool
	// Err carries the embedded upstream error for PhaseError events.
	Err string
}

// Streamer fabricates the chunk sequence for one streaming response: one
// role chunk, content chunks for non-empty deltas, one finish chunk. All
// chunks of a stream share an id and creation time.
type Streamer struct {
	id      string
	created int64
	model   string
	mode    string
}

func NewStreamer(model, thinkTagsMode string) *Streamer {
	return &Streamer{
		id:      "chatcmpl-" + uuid.NewString(),
		created: time.Now().Unix(),
		model:   model,
		mode:    thinkTagsMode,
	}
}

func (s *Streamer) chunk(choice domain.Choice) domain.StreamChunk {
	return domain.StreamChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []domain.Choice{choice},
	}
}

// RoleChunk is the first frame of every stream.
func (s *Streamer) RoleChunk() domain.StreamChunk {
	return s.chunk(domain.Choice{Index: 0, Delta: &domain.Delta{Role: "assistant"}})
}

// ContentChunk transforms a delta and wraps it in a chunk. Thinking deltas
// that collapse to nothing after tag stripping yield ok=false and must not
// be emitted.
func (s *Streamer) ContentChunk(ev DeltaEvent) (domain.StreamChunk, bool) {
	out := ev.Content
	if ev.Phase == PhaseThinking {
		out = TransformThinking(out, s.mode)
	}
	if out == "" {
		return domain.StreamChunk{}, false
	}
	return s.chunk(domain.Choice{Index: 0, Delta: &domain.Delta{Content: out}}), true
}

// FinishChunk is the terminal frame, emitted exactly once per stream before
// the [DONE] sentinel.
func (s *Streamer) FinishChunk() domain.StreamChunk {
	stop := "stop"
	return s.chunk(domain.Choice{Index: 0, Delta: &domain.Delta{}, FinishReason: &stop})
}

// Accumulator collects content for a non-streaming response. Thinking-phase
// text never reaches the final message.
type Accumulator struct {
	content strings.Builder
	done    bool
	err     string
}

func (a *Accumulator) Add(ev DeltaEvent) {
	switch ev.Phase {
	case PhaseContent:
		a.content.WriteString(ev.Content)
	case PhaseDone:
		a.done = true
	case PhaseError:
		a.err = ev.Err
		a.done = true
	}
	if ev.Done {
		a.done = true
	}
}

// Done reports whether a terminal event has been seen.
func (a *Accumulator) Done() bool { return a.done }

// Err returns the embedded upstream error, if any.
func (a *Accumulator) Err() error {
	if a.err == "" {
		return nil
	}
	return fmt.Errorf("upstream reported error: %s", a.err)
}

// Response builds the final chat.completion object.
func (a *Accumulator) Response(model string) *domain.ChatResponse {
	stop := "stop"
	return &domain.ChatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []domain.Choice{
			{
				Index:        0,
				Message:      &domain.Message{Role: "assistant", Content: a.content.String()},
				FinishReason: &stop,
			},
		},
	}
}

// ResponseFromText wraps already-assembled content, used when serving from
// the response cache.
func ResponseFromText(model, content string) *domain.ChatResponse {
	acc := &Accumulator{}
	acc.content.WriteString(content)
	return acc.Response(model)
}

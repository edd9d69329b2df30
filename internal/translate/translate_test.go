package translate

import (
	"strings"
	"testing"
)

func TestStreamer_ChunkSequence(t *testing.T) {
	s := NewStreamer("GLM-4.5", ModeStrip)

	role := s.RoleChunk()
	if role.Object != "chat.completion.chunk" {
		t.Errorf("unexpected object: %q", role.Object)
	}
	if role.Model != "GLM-4.5" {
		t.Errorf("unexpected model: %q", role.Model)
	}
	if role.Choices[0].Delta == nil || role.Choices[0].Delta.Role != "assistant" {
		t.Error("role chunk must carry the assistant role delta")
	}
	if !strings.HasPrefix(role.ID, "chatcmpl-") {
		t.Errorf("unexpected id: %q", role.ID)
	}

	content, ok := s.ContentChunk(DeltaEvent{Phase: PhaseContent, Content: "hello"})
	if !ok {
		t.Fatal("content chunk should be emitted")
	}
	if content.Choices[0].Delta.Content != "hello" {
		t.Errorf("unexpected content: %q", content.Choices[0].Delta.Content)
	}
	if content.ID != role.ID {
		t.Error("all chunks of a stream must share one id")
	}
	if content.Created != role.Created {
		t.Error("all chunks of a stream must share one creation time")
	}

	finish := s.FinishChunk()
	if finish.Choices[0].FinishReason == nil || *finish.Choices[0].FinishReason != "stop" {
		t.Error("finish chunk must carry finish_reason stop")
	}
}

func TestStreamer_EmptyTransformedDeltaSuppressed(t *testing.T) {
	s := NewStreamer("GLM-4.5", ModeStrip)

	// A thinking delta holding only markup collapses to nothing after
	// stripping and must not be framed.
	if _, ok := s.ContentChunk(DeltaEvent{Phase: PhaseThinking, Content: "<details type=\"reasoning\"><summary>x</summary></details>"}); ok {
		t.Error("expected markup-only thinking delta to be suppressed")
	}

	if _, ok := s.ContentChunk(DeltaEvent{Phase: PhaseContent, Content: ""}); ok {
		t.Error("expected empty content delta to be suppressed")
	}
}

func TestStreamer_ThinkingTransformed(t *testing.T) {
	s := NewStreamer("GLM-4.5", ModeStrip)

	chunk, ok := s.ContentChunk(DeltaEvent{Phase: PhaseThinking, Content: "> reasoning text"})
	if !ok {
		t.Fatal("expected chunk for non-empty thinking delta")
	}
	if chunk.Choices[0].Delta.Content != "reasoning text" {
		t.Errorf("thinking delta not transformed: %q", chunk.Choices[0].Delta.Content)
	}
}

func TestAccumulator_IgnoresThinking(t *testing.T) {
	acc := &Accumulator{}
	acc.Add(DeltaEvent{Phase: PhaseThinking, Content: "internal reasoning"})
	acc.Add(DeltaEvent{Phase: PhaseContent, Content: "visible "})
	acc.Add(DeltaEvent{Phase: PhaseContent, Content: "answer"})
	acc.Add(DeltaEvent{Phase: PhaseDone})

	if !acc.Done() {
		t.Fatal("expected accumulator to be done")
	}
	resp := acc.Response("GLM-4.5")
	got := resp.Choices[0].Message.Content
	if got != "visible answer" {
		t.Errorf("expected thinking excluded, got %q", got)
	}
	if *resp.Choices[0].FinishReason != "stop" {
		t.Errorf("unexpected finish reason: %v", resp.Choices[0].FinishReason)
	}
}

func TestAccumulator_ContentOnTerminalEvent(t *testing.T) {
	acc := &Accumulator{}
	acc.Add(DeltaEvent{Phase: PhaseContent, Content: "head "})
	acc.Add(DeltaEvent{Phase: PhaseContent, Content: "tail", Done: true})

	if !acc.Done() {
		t.Fatal("done flag must terminate accumulation")
	}
	got := acc.Response("GLM-4.5").Choices[0].Message.Content
	if got != "head tail" {
		t.Errorf("content on the terminal event must be kept, got %q", got)
	}
}

func TestAccumulator_EmbeddedError(t *testing.T) {
	acc := &Accumulator{}
	acc.Add(DeltaEvent{Phase: PhaseContent, Content: "partial"})
	acc.Add(DeltaEvent{Phase: PhaseError, Err: "quota exceeded"})

	if !acc.Done() {
		t.Fatal("error must terminate accumulation")
	}
	err := acc.Err()
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("expected embedded error surfaced, got %v", err)
	}
}

func TestResponseFromText(t *testing.T) {
	resp := ResponseFromText("GLM-4.5", "cached answer")

	if resp.Object != "chat.completion" {
		t.Errorf("unexpected object: %q", resp.Object)
	}
	if resp.Model != "GLM-4.5" {
		t.Errorf("unexpected model: %q", resp.Model)
	}
	if resp.Choices[0].Message.Content != "cached answer" {
		t.Errorf("unexpected content: %q", resp.Choices[0].Message.Content)
	}
}

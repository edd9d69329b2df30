package zread

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ztoapi/internal/domain"
	"ztoapi/internal/platform"
	"ztoapi/internal/provider"
)

func testDescriptor(baseURL string) *platform.Descriptor {
	return &platform.Descriptor{
		ID:            "zread",
		OriginBase:    "https://zread.ai",
		RefererPrefix: "/chat/",
		ChatURL:       baseURL,
		OwnedBy:       "zread.ai",
		XFEVersion:    "prod-fe-1.0.94",
		Flow:          platform.FlowTalk,
	}
}

func testTalkContext() TalkContext {
	return TalkContext{
		RepoID:     "repo-1",
		WikiPageID: "page-1",
		WikiID:     "wiki-1",
	}
}

func testRequest() provider.Request {
	return provider.Request{
		Messages:        []domain.Message{{Role: "user", Content: "what does this repo do?"}},
		ClientModel:     "zread-glm",
		UpstreamModelID: "glm-4.5",
	}
}

// talkServer emulates the two-step upstream: POST / creates a talk, POST
// /{id}/message answers it.
func talkServer(t *testing.T, talkID string, respond func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if !strings.Contains(r.URL.Path, "/message") {
			var body createTalkRequest
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("bad talk body: %v", err)
			}
			if body.RepoID != "repo-1" {
				t.Errorf("unexpected repo id: %q", body.RepoID)
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(createTalkResponse{ID: talkID})
			return
		}
		if !strings.Contains(r.URL.Path, talkID) {
			t.Errorf("message posted to wrong talk: %s", r.URL.Path)
		}
		respond(w, r)
	}))
}

func TestChatCompletion_TwoStepFlow(t *testing.T) {
	srv := talkServer(t, "talk-123", func(w http.ResponseWriter, r *http.Request) {
		var msg messageRequest
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Fatalf("bad message body: %v", err)
		}
		if msg.Query != "what does this repo do?" {
			t.Errorf("unexpected query: %q", msg.Query)
		}
		if msg.ParentMessageID != "" {
			t.Errorf("parent message id must be empty, got %q", msg.ParentMessageID)
		}
		if msg.Context.Wiki.PageID != "page-1" || msg.Context.Repo.RepoID != "repo-1" {
			t.Errorf("unexpected context: %+v", msg.Context)
		}
		if msg.Model != "glm-4.5" {
			t.Errorf("unexpected model: %q", msg.Model)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("event: answer\ndata: {\"text\":\"It serves \"}\n\n"))
		w.Write([]byte("event: answer\ndata: {\"text\":\"chat requests.\"}\n\n"))
		w.Write([]byte("event: finish\ndata: {}\n\n"))
	})
	defer srv.Close()

	p := New(testDescriptor(srv.URL), srv.Client(), 5*time.Second, testTalkContext())

	resp, err := p.ChatCompletion(context.Background(), testRequest(), "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := resp.Choices[0].Message.Content; got != "It serves chat requests." {
		t.Errorf("unexpected content: %q", got)
	}
}

func TestChatCompletion_RequiresTrailingUserMessage(t *testing.T) {
	p := New(testDescriptor("http://unused"), http.DefaultClient, 5*time.Second, testTalkContext())

	tests := []struct {
		name     string
		messages []domain.Message
	}{
		{"empty", nil},
		{"assistant last", []domain.Message{
			{Role: "user", Content: "q"},
			{Role: "assistant", Content: "a"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequest()
			req.Messages = tt.messages
			_, err := p.ChatCompletion(context.Background(), req, "tok")
			if !errors.Is(err, domain.ErrNoUserMessage) {
				t.Errorf("expected ErrNoUserMessage, got %v", err)
			}
		})
	}
}

func TestChatCompletion_JSONFallback(t *testing.T) {
	srv := talkServer(t, "talk-123", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":"plain json answer"}`))
	})
	defer srv.Close()

	p := New(testDescriptor(srv.URL), srv.Client(), 5*time.Second, testTalkContext())

	resp, err := p.ChatCompletion(context.Background(), testRequest(), "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := resp.Choices[0].Message.Content; got != "plain json answer" {
		t.Errorf("unexpected content: %q", got)
	}
}

func TestChatCompletion_FinalRecordWithoutNewline(t *testing.T) {
	srv := talkServer(t, "talk-123", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("event: answer\ndata: {\"text\":\"whole answer\"}"))
	})
	defer srv.Close()

	p := New(testDescriptor(srv.URL), srv.Client(), 5*time.Second, testTalkContext())

	resp, err := p.ChatCompletion(context.Background(), testRequest(), "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := resp.Choices[0].Message.Content; got != "whole answer" {
		t.Errorf("unexpected content: %q", got)
	}
}

func TestChatCompletion_CreateTalkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("bad token"))
	}))
	defer srv.Close()

	p := New(testDescriptor(srv.URL), srv.Client(), 5*time.Second, testTalkContext())

	_, err := p.ChatCompletion(context.Background(), testRequest(), "tok")
	var httpErr *domain.UpstreamHTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected UpstreamHTTPError, got %v", err)
	}
	if httpErr.Status != http.StatusUnauthorized {
		t.Errorf("unexpected status: %d", httpErr.Status)
	}
}

func TestChatCompletionStream_FramesAnswers(t *testing.T) {
	srv := talkServer(t, "talk-123", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("event: answer\ndata: {\"text\":\"streamed\"}\n\n"))
		w.Write([]byte("event: finish\ndata: {}\n\n"))
	})
	defer srv.Close()

	p := New(testDescriptor(srv.URL), srv.Client(), 5*time.Second, testTalkContext())

	chunks, errs := p.ChatCompletionStream(context.Background(), testRequest(), "tok")

	var got []domain.StreamChunk
	for chunk := range chunks {
		got = append(got, chunk)
	}
	if err, open := <-errs; open && err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("expected role+content+finish, got %d chunks", len(got))
	}
	if got[0].Choices[0].Delta.Role != "assistant" {
		t.Error("first chunk must be the role chunk")
	}
	if got[1].Choices[0].Delta.Content != "streamed" {
		t.Errorf("unexpected content: %q", got[1].Choices[0].Delta.Content)
	}
	if got[2].Choices[0].FinishReason == nil || *got[2].Choices[0].FinishReason != "stop" {
		t.Error("last chunk must carry finish_reason stop")
	}
}

func TestChatCompletionStream_ValidationErrorBeforeChunks(t *testing.T) {
	p := New(testDescriptor("http://unused"), http.DefaultClient, 5*time.Second, testTalkContext())

	req := testRequest()
	req.Messages = []domain.Message{{Role: "system", Content: "only system"}}

	chunks, errs := p.ChatCompletionStream(context.Background(), req, "tok")

	if _, ok := <-chunks; ok {
		t.Fatal("no chunks expected for an invalid request")
	}
	err, open := <-errs
	if !open || !errors.Is(err, domain.ErrNoUserMessage) {
		t.Errorf("expected ErrNoUserMessage, got %v", err)
	}
}

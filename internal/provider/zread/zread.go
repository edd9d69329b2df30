// Package zread implements the two-step talk flow: every chat completion
// first creates a talk anchored to a repository, then posts the user's last
// message into it. The upstream answers over SSE with named events.
package zread

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ztoapi/internal/domain"
	"ztoapi/internal/platform"
	"ztoapi/internal/provider"
	"ztoapi/internal/sse"
	"ztoapi/internal/telemetry"
	"ztoapi/internal/translate"
)

// TalkContext anchors new talks to a repository and wiki page.
type TalkContext struct {
	RepoID     string
	WikiPageID string
	WikiID     string
}

type Provider struct {
	desc        *platform.Descriptor
	client      *http.Client
	sendTimeout time.Duration
	talk        TalkContext
}

func New(desc *platform.Descriptor, client *http.Client, sendTimeout time.Duration, talk TalkContext) *Provider {
	return &Provider{
		desc:        desc,
		client:      client,
		sendTimeout: sendTimeout,
		talk:        talk,
	}
}

func (p *Provider) ID() string {
	return p.desc.ID
}

type createTalkRequest struct {
	RepoID string `json:"repo_id"`
}

type createTalkResponse struct {
	ID string `json:"id"`
}

type messageRequest struct {
	ParentMessageID string         `json:"parent_message_id"`
	Query           string         `json:"query"`
	Context         messageContext `json:"context"`
	Model           string         `json:"model"`
}

type messageContext struct {
	Wiki wikiRef `json:"wiki"`
	Repo repoRef `json:"repo"`
}

type wikiRef struct {
	PageID string `json:"page_id"`
	WikiID string `json:"wiki_id"`
}

type repoRef struct {
	RepoID string `json:"repo_id"`
}

// lastUserQuery extracts the message the talk flow forwards. The upstream has
// no concept of a message history, so only the final user turn is sent.
func lastUserQuery(messages []domain.Message) (string, error) {
	if len(messages) == 0 {
		return "", domain.ErrNoUserMessage
	}
	last := messages[len(messages)-1]
	if last.Role != "user" {
		return "", domain.ErrNoUserMessage
	}
	return last.Content, nil
}

func (p *Provider) headers(authToken, accept string) http.Header {
	h := p.desc.BrowserHeaders("", authToken)
	h.Set("Accept", accept)
	h.Set("X-Locale", "zh")
	return h
}

// createTalk opens a fresh conversation. Talks are intentionally not reused
// across requests; the upstream garbage-collects them.
func (p *Provider) createTalk(ctx context.Context, authToken string) (string, error) {
	body, err := json.Marshal(createTalkRequest{RepoID: p.talk.RepoID})
	if err != nil {
		return "", fmt.Errorf("marshal talk request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.desc.ChatURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create talk request: %w", err)
	}
	httpReq.Header = p.headers(authToken, "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", domain.ErrUpstreamTimeout
		}
		return "", fmt.Errorf("create talk: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &domain.UpstreamHTTPError{Status: resp.StatusCode, Body: string(b)}
	}

	var talk createTalkResponse
	if err := json.NewDecoder(resp.Body).Decode(&talk); err != nil {
		return "", fmt.Errorf("decode talk response: %w", err)
	}
	if talk.ID == "" {
		return "", fmt.Errorf("create talk: upstream returned empty talk id")
	}

	return talk.ID, nil
}

// sendMessage posts the query into an existing talk and returns the response
// body, which carries either an SSE stream or a plain JSON answer.
func (p *Provider) sendMessage(ctx context.Context, talkID, query, modelID, authToken string) (io.ReadCloser, error) {
	body, err := json.Marshal(messageRequest{
		ParentMessageID: "",
		Query:           query,
		Context: messageContext{
			Wiki: wikiRef{PageID: p.talk.WikiPageID, WikiID: p.talk.WikiID},
			Repo: repoRef{RepoID: p.talk.RepoID},
		},
		Model: modelID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal message request: %w", err)
	}

	url := strings.TrimSuffix(p.desc.ChatURL, "/") + "/" + talkID + "/message"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create message request: %w", err)
	}
	httpReq.Header = p.headers(authToken, "text/event-stream, application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.ErrUpstreamTimeout
		}
		return nil, fmt.Errorf("send message: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &domain.UpstreamHTTPError{Status: resp.StatusCode, Body: string(b)}
	}
	if resp.Body == nil {
		return nil, domain.ErrNoResponseBody
	}

	return resp.Body, nil
}

type answerPayload struct {
	Text string `json:"text"`
}

// decodeEvent interprets one named SSE record from the talk stream.
func decodeEvent(ev sse.Event) (translate.DeltaEvent, bool) {
	switch ev.Name {
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil || payload.Text == "" {
			return translate.DeltaEvent{}, false
		}
		return translate.DeltaEvent{Phase: translate.PhaseContent, Content: payload.Text}, true
	case "finish":
		return translate.DeltaEvent{Phase: translate.PhaseDone}, true
	default:
		return translate.DeltaEvent{}, false
	}
}

func (p *Provider) ChatCompletion(ctx context.Context, req provider.Request, authToken string) (*domain.ChatResponse, error) {
	query, err := lastUserQuery(req.Messages)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, "zread.chat_completion")
	defer span.End()
	telemetry.AddUpstreamAttributes(span, p.desc.ID, req.ClientModel, req.UpstreamModelID, false)

	talkID, err := p.createTalk(ctx, authToken)
	if err != nil {
		return nil, err
	}

	body, err := p.sendMessage(ctx, talkID, query, req.UpstreamModelID, authToken)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.ErrUpstreamTimeout
		}
		return nil, fmt.Errorf("read message response: %w", err)
	}

	acc := &translate.Accumulator{}
	scanner := sse.NewScanner()
	events := scanner.Write(raw)
	if ev, ok := scanner.Flush(); ok {
		events = append(events, ev)
	}
	for _, ev := range events {
		if delta, ok := decodeEvent(ev); ok {
			acc.Add(delta)
		}
	}

	if err := acc.Err(); err != nil {
		return nil, &domain.UpstreamHTTPError{Status: http.StatusBadGateway, Body: err.Error()}
	}

	resp := acc.Response(req.ClientModel)
	if resp.Choices[0].Message.Content == "" {
		// Some answers come back as a plain JSON object instead of SSE.
		resp.Choices[0].Message.Content = fallbackContent(raw)
	}
	return resp, nil
}

// fallbackContent salvages a non-SSE body: a JSON object with a content or
// response field, or failing that the raw text.
func fallbackContent(raw []byte) string {
	var obj struct {
		Content  string `json:"content"`
		Response string `json:"response"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Content != "" {
			return obj.Content
		}
		if obj.Response != "" {
			return obj.Response
		}
	}
	return strings.TrimSpace(string(raw))
}

func (p *Provider) ChatCompletionStream(ctx context.Context, req provider.Request, authToken string) (<-chan domain.StreamChunk, <-chan error) {
	chunks := make(chan domain.StreamChunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		ctx, span := telemetry.StartSpan(ctx, "zread.chat_completion_stream")
		defer span.End()
		telemetry.AddUpstreamAttributes(span, p.desc.ID, req.ClientModel, req.UpstreamModelID, true)

		query, err := lastUserQuery(req.Messages)
		if err != nil {
			errs <- err
			return
		}

		talkID, err := p.createTalk(ctx, authToken)
		if err != nil {
			errs <- err
			return
		}

		body, err := p.sendMessage(ctx, talkID, query, req.UpstreamModelID, authToken)
		if err != nil {
			errs <- err
			return
		}
		defer body.Close()

		// Talk streams carry no thinking phase, so the tag mode is moot.
		streamer := translate.NewStreamer(req.ClientModel, translate.ModeStrip)

		send := func(chunk domain.StreamChunk) bool {
			select {
			case chunks <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send(streamer.RoleChunk()) {
			return
		}

		scanner := sse.NewScanner()
		buf := make([]byte, 4096)

		// deliver forwards one decoded event and reports whether the stream
		// is over, either terminally or because the consumer went away.
		deliver := func(ev sse.Event) bool {
			delta, ok := decodeEvent(ev)
			if !ok {
				return false
			}
			if delta.Phase == translate.PhaseDone {
				send(streamer.FinishChunk())
				return true
			}
			if chunk, ok := streamer.ContentChunk(delta); ok {
				if !send(chunk) {
					return true
				}
			}
			return false
		}

		for {
			n, readErr := body.Read(buf)
			if n > 0 {
				for _, ev := range scanner.Write(buf[:n]) {
					if deliver(ev) {
						return
					}
				}
			}
			if readErr != nil {
				if readErr == io.EOF {
					if ev, ok := scanner.Flush(); ok && deliver(ev) {
						return
					}
					errs <- fmt.Errorf("talk stream ended early: %w", io.ErrUnexpectedEOF)
				} else if ctx.Err() == nil {
					errs <- fmt.Errorf("read talk stream: %w", readErr)
				}
				return
			}
		}
	}()

	return chunks, errs
}

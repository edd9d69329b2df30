// Package zai implements the single-step chat flow. The upstream only speaks
// SSE, so non-streaming responses are assembled here from the same event
// stream the streaming path re-frames.
package zai

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"ztoapi/internal/domain"
	"ztoapi/internal/platform"
	"ztoapi/internal/provider"
	"ztoapi/internal/sse"
	"ztoapi/internal/telemetry"
	"ztoapi/internal/translate"
)

type Provider struct {
	desc          *platform.Descriptor
	client        *http.Client
	sendTimeout   time.Duration
	thinkTagsMode string
}

func New(desc *platform.Descriptor, client *http.Client, sendTimeout time.Duration, thinkTagsMode string) *Provider {
	return &Provider{
		desc:          desc,
		client:        client,
		sendTimeout:   sendTimeout,
		thinkTagsMode: thinkTagsMode,
	}
}

func (p *Provider) ID() string {
	return p.desc.ID
}

// upstreamRequest is the provider's proprietary chat body. The upstream is
// always asked for a stream; buffering happens on our side.
type upstreamRequest struct {
	Stream          bool                   `json:"stream"`
	ChatID          string                 `json:"chat_id"`
	ID              string                 `json:"id"`
	Model           string                 `json:"model"`
	Messages        []domain.Message       `json:"messages"`
	Params          map[string]interface{} `json:"params"`
	Features        features               `json:"features"`
	BackgroundTasks backgroundTasks        `json:"background_tasks"`
	MCPServers      []string               `json:"mcp_servers"`
	ModelItem       modelItem              `json:"model_item"`
	ToolServers     []string               `json:"tool_servers"`
	Variables       map[string]string      `json:"variables"`
}

type features struct {
	EnableThinking bool `json:"enable_thinking"`
}

type backgroundTasks struct {
	TitleGeneration bool `json:"title_generation"`
	TagsGeneration  bool `json:"tags_generation"`
}

type modelItem struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnedBy string `json:"owned_by"`
}

// upstreamEvent mirrors the SSE data payload. Error objects have been
// observed at three nesting depths.
type upstreamEvent struct {
	Error *upstreamError    `json:"error"`
	Data  upstreamEventData `json:"data"`
}

type upstreamEventData struct {
	DeltaContent string         `json:"delta_content"`
	Phase        string         `json:"phase"`
	Done         bool           `json:"done"`
	Usage        *domain.Usage  `json:"usage"`
	Error        *upstreamError `json:"error"`
	Inner        *struct {
		Error *upstreamError `json:"error"`
	} `json:"data"`
}

type upstreamError struct {
	Code    interface{} `json:"code"`
	Message string      `json:"detail"`
}

func (p *Provider) buildRequest(req provider.Request, chatID, msgID string) upstreamRequest {
	return upstreamRequest{
		Stream:   true,
		ChatID:   chatID,
		ID:       msgID,
		Model:    req.UpstreamModelID,
		Messages: req.Messages,
		Params:   map[string]interface{}{},
		Features: features{EnableThinking: req.EnableThinking},
		BackgroundTasks: backgroundTasks{
			TitleGeneration: false,
			TagsGeneration:  false,
		},
		MCPServers: []string{},
		ModelItem: modelItem{
			ID:      req.UpstreamModelID,
			Name:    req.ClientModel,
			OwnedBy: p.desc.OwnedBy,
		},
		ToolServers: []string{},
		Variables: map[string]string{
			"{{USER_NAME}}":        "User",
			"{{USER_LOCATION}}":    "Unknown",
			"{{CURRENT_DATETIME}}": time.Now().UTC().Format("2006-01-02 15:04:05"),
		},
	}
}

func newChatID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixMilli(), rand.Intn(100000))
}

// call executes the signed POST and returns the SSE body on success.
func (p *Provider) call(ctx context.Context, req provider.Request, authToken string) (io.ReadCloser, error) {
	chatID := newChatID()
	msgID := fmt.Sprintf("%d", time.Now().UnixMilli())

	body, err := json.Marshal(p.buildRequest(req, chatID, msgID))
	if err != nil {
		return nil, fmt.Errorf("marshal upstream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.desc.ChatURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}

	httpReq.Header = p.desc.BrowserHeaders(chatID, authToken)
	httpReq.Header.Set("Connection", "keep-alive")
	httpReq.Header.Set("Cookie", "token="+authToken)
	if p.desc.SignRequests {
		// Non-cryptographic body hash the upstream validates byte-for-byte.
		sum := sha256.Sum256(body)
		httpReq.Header.Set("X-Signature", hex.EncodeToString(sum[:]))
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.ErrUpstreamTimeout
		}
		return nil, fmt.Errorf("call upstream: %w", err)
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

// decodeEvent maps one SSE record onto the translator's event model.
func decodeEvent(ev sse.Event) (translate.DeltaEvent, bool) {
	var parsed upstreamEvent
	if err := json.Unmarshal([]byte(ev.Data), &parsed); err != nil {
		slog.Debug("skipping malformed upstream event", "error", err)
		return translate.DeltaEvent{}, false
	}

	if errObj := firstError(&parsed); errObj != nil {
		return translate.DeltaEvent{Phase: translate.PhaseError, Err: errObj.Message}, true
	}

	done := parsed.Data.Done || parsed.Data.Phase == "done"

	// A terminal event may still carry the last delta; the content is
	// delivered before the done flag takes effect.
	if parsed.Data.DeltaContent != "" {
		phase := translate.PhaseContent
		if parsed.Data.Phase == "thinking" {
			phase = translate.PhaseThinking
		}
		return translate.DeltaEvent{Phase: phase, Content: parsed.Data.DeltaContent, Done: done}, true
	}

	if done {
		return translate.DeltaEvent{Phase: translate.PhaseDone}, true
	}

	return translate.DeltaEvent{}, false
}

func firstError(ev *upstreamEvent) *upstreamError {
	if ev.Error != nil {
		return ev.Error
	}
	if ev.Data.Error != nil {
		return ev.Data.Error
	}
	if ev.Data.Inner != nil && ev.Data.Inner.Error != nil {
		return ev.Data.Inner.Error
	}
	return nil
}

func (p *Provider) ChatCompletion(ctx context.Context, req provider.Request, authToken string) (*domain.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, "zai.chat_completion")
	defer span.End()
	telemetry.AddUpstreamAttributes(span, p.desc.ID, req.ClientModel, req.UpstreamModelID, false)

	body, err := p.call(ctx, req, authToken)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	scanner := sse.NewScanner()
	acc := &translate.Accumulator{}
	buf := make([]byte, 4096)

	for !acc.Done() {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, ev := range scanner.Write(buf[:n]) {
				if delta, ok := decodeEvent(ev); ok {
					acc.Add(delta)
					if acc.Done() {
						break
					}
				}
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				if ctx.Err() != nil {
					return nil, domain.ErrUpstreamTimeout
				}
				return nil, fmt.Errorf("read upstream body: %w", readErr)
			}
			// A body truncated without a trailing newline may still hold one
			// last record.
			if ev, ok := scanner.Flush(); ok {
				if delta, ok := decodeEvent(ev); ok {
					acc.Add(delta)
				}
			}
			break
		}
	}

	if err := acc.Err(); err != nil {
		return nil, &domain.UpstreamHTTPError{Status: http.StatusBadGateway, Body: err.Error()}
	}

	return acc.Response(req.ClientModel), nil
}

func (p *Provider) ChatCompletionStream(ctx context.Context, req provider.Request, authToken string) (<-chan domain.StreamChunk, <-chan error) {
	chunks := make(chan domain.StreamChunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		ctx, span := telemetry.StartSpan(ctx, "zai.chat_completion_stream")
		defer span.End()
		telemetry.AddUpstreamAttributes(span, p.desc.ID, req.ClientModel, req.UpstreamModelID, true)

		body, err := p.call(ctx, req, authToken)
		if err != nil {
			errs <- err
			return
		}
		defer body.Close()

		streamer := translate.NewStreamer(req.ClientModel, p.thinkTagsMode)

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
			if delta.Phase == translate.PhaseDone || delta.Phase == translate.PhaseError {
				// An embedded error is still a normal stream close:
				// headers are long gone.
				send(streamer.FinishChunk())
				return true
			}
			if chunk, ok := streamer.ContentChunk(delta); ok {
				if !send(chunk) {
					return true
				}
			}
			if delta.Done {
				send(streamer.FinishChunk())
				return true
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
					// Body ended before a terminal event; close abnormally
					// so the client sees the missing [DONE].
					errs <- fmt.Errorf("upstream stream ended early: %w", io.ErrUnexpectedEOF)
				} else if ctx.Err() == nil {
					errs <- fmt.Errorf("read upstream stream: %w", readErr)
				}
				return
			}
		}
	}()

	return chunks, errs
}

// Package provider defines the upstream client contract. Each platform gets
// its own implementation selected by the platform descriptor at dispatch
// time; the flow differences (signed one-step chat vs two-step talk) stay
// inside the implementations.
package provider

import (
	"context"

	"ztoapi/internal/domain"
)

// Request is the resolved, provider-agnostic upstream call.
type Request struct {
	Messages        []domain.Message
	ClientModel     string
	UpstreamModelID string
	EnableThinking  bool
}

// Provider executes chat calls against one upstream platform. A credential
// is acquired per call by the token cascade and passed in; providers never
// cache it. No implementation retries: a single upstream failure propagates.
type Provider interface {
	ID() string
	ChatCompletion(ctx context.Context, req Request, authToken string) (*domain.ChatResponse, error)
	// ChatCompletionStream returns a chunk channel and an error channel.
	// A stream that terminates normally closes the chunk channel after the
	// finish chunk without sending an error; a transport failure or an
	// upstream body that ends before its terminal event sends one error.
	ChatCompletionStream(ctx context.Context, req Request, authToken string) (<-chan domain.StreamChunk, <-chan error)
}

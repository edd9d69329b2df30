// Package platform holds the static descriptors for the upstream providers.
// Descriptors are built once at startup and never mutated afterwards, so the
// registry is safe for unsynchronized concurrent reads.
package platform

import "strings"

// Flow selects which upstream call strategy a platform uses.
type Flow string

const (
	// FlowChat is the single signed POST to the chat completions endpoint.
	FlowChat Flow = "chat"
	// FlowTalk is the two-step create-talk-then-send-message flow.
	FlowTalk Flow = "talk"
)

// Descriptor describes one upstream provider.
type Descriptor struct {
	ID             string
	Name           string
	Brand          string
	HomeURL        string
	OriginBase     string
	APIBase        string
	RefererPrefix  string
	ChatURL        string
	AuthURL        string
	OwnedBy        string
	TokenHeader    string
	DefaultModelID string
	XFEVersion     string
	Flow           Flow
	// SignRequests adds the X-Signature content hash header to chat calls.
	SignRequests bool
}

// Origin returns the origin base without a trailing slash.
func (d *Descriptor) Origin() string {
	return strings.TrimSuffix(d.OriginBase, "/")
}

// Referer builds the browser-style referer for a conversation id.
func (d *Descriptor) Referer(chatID string) string {
	prefix := d.RefererPrefix
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return d.Origin() + prefix + chatID
}

// Registry is an immutable id-to-descriptor lookup.
type Registry struct {
	platforms map[string]*Descriptor
	defaultID string
}

func NewRegistry(defaultID string, descriptors ...*Descriptor) *Registry {
	m := make(map[string]*Descriptor, len(descriptors))
	for _, d := range descriptors {
		m[d.ID] = d
	}
	return &Registry{platforms: m, defaultID: defaultID}
}

func (r *Registry) Get(id string) (*Descriptor, bool) {
	d, ok := r.platforms[id]
	return d, ok
}

func (r *Registry) Default() *Descriptor {
	if d, ok := r.platforms[r.defaultID]; ok {
		return d
	}
	for _, d := range r.platforms {
		return d
	}
	return nil
}

func (r *Registry) DefaultID() string {
	return r.defaultID
}

// Package router resolves a client-supplied model name to an upstream
// platform and model id. Resolution never fails: unknown names degrade to the
// default platform with the requested name passed through.
package router

import (
	"log/slog"
	"strings"

	"ztoapi/internal/config"
	"ztoapi/internal/platform"
)

// Resolution is the outcome of a model lookup.
type Resolution struct {
	Platform        *platform.Descriptor
	ClientModel     string
	UpstreamModelID string
}

type route struct {
	clientModel string // original casing, for display
	platformID  string
	upstreamID  string
}

type Router struct {
	registry     *platform.Registry
	routes       map[string]route // keyed by lowercased client model
	order        []string         // registration order of lookup keys
	defaultModel string
}

// New builds the route table. Entries referencing an unknown platform are
// dropped; for duplicate client models the last registration wins.
func New(registry *platform.Registry, routes []config.Route, defaultModel string) *Router {
	r := &Router{
		registry:     registry,
		routes:       make(map[string]route, len(routes)),
		defaultModel: defaultModel,
	}

	for _, rt := range routes {
		platformID := rt.PlatformID
		if platformID == "" {
			platformID = registry.DefaultID()
		}
		if _, ok := registry.Get(platformID); !ok {
			slog.Warn("dropping model route with unknown platform",
				"model", rt.ClientModel, "platform", platformID)
			continue
		}
		key := strings.ToLower(rt.ClientModel)
		if _, exists := r.routes[key]; !exists {
			r.order = append(r.order, key)
		}
		r.routes[key] = route{
			clientModel: rt.ClientModel,
			platformID:  platformID,
			upstreamID:  rt.UpstreamID,
		}
	}

	return r
}

// Resolve maps a requested model name to a platform and upstream model id.
func (r *Router) Resolve(requested string) Resolution {
	name := strings.TrimSpace(requested)
	if name == "" {
		name = r.defaultModel
	}

	if rt, ok := r.routes[strings.ToLower(name)]; ok {
		desc, _ := r.registry.Get(rt.platformID)
		// Report the registered casing, not whatever the caller typed.
		return Resolution{
			Platform:        desc,
			ClientModel:     rt.clientModel,
			UpstreamModelID: rt.upstreamID,
		}
	}

	desc := r.registry.Default()
	upstreamID := desc.DefaultModelID
	if upstreamID == "" {
		upstreamID = name
	}
	return Resolution{
		Platform:        desc,
		ClientModel:     name,
		UpstreamModelID: upstreamID,
	}
}

// ClientModels returns the distinct registered display names in registration
// order, with the default model first when it has no explicit route.
func (r *Router) ClientModels() []string {
	names := make([]string, 0, len(r.order)+1)
	if _, ok := r.routes[strings.ToLower(r.defaultModel)]; !ok {
		names = append(names, r.defaultModel)
	}
	for _, key := range r.order {
		names = append(names, r.routes[key].clientModel)
	}
	return names
}

// OwnedBy reports the owning brand label for a display name.
func (r *Router) OwnedBy(clientModel string) string {
	return r.Resolve(clientModel).Platform.OwnedBy
}

// Package voice resolves voice agents and obtains conversation credentials
// from the voice provider.
package voice

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Errors returned by the voice package.
var (
	ErrUnknownAgent = errors.New("unknown voice agent")
	ErrUnconfigured = errors.New("voice provider is not configured")
	ErrUpstream     = errors.New("voice provider request failed")
)

// Agent is a voice agent exposed to clients.
type Agent struct {
	Slug       string `json:"slug"`
	ProviderID string `json:"agentId"`
}

// Registry maps public agent keys to provider agent ids.
type Registry struct {
	bySlug     map[string]Agent
	byProvider map[string]Agent
}

// ParseRegistry parses "slug:agent_id,slug:agent_id". A bare entry without
// a colon uses the provider id as its own slug.
func ParseRegistry(raw string) (*Registry, error) {
	r := &Registry{
		bySlug:     make(map[string]Agent),
		byProvider: make(map[string]Agent),
	}

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		slug, id, found := strings.Cut(entry, ":")
		if !found {
			id = slug
		}
		slug = strings.ToLower(strings.TrimSpace(slug))
		id = strings.TrimSpace(id)
		if slug == "" || id == "" {
			return nil, fmt.Errorf("invalid voice agent entry %q", entry)
		}
		if _, dup := r.bySlug[slug]; dup {
			return nil, fmt.Errorf("duplicate voice agent %q", slug)
		}

		agent := Agent{Slug: slug, ProviderID: id}
		r.bySlug[slug] = agent
		r.byProvider[id] = agent
	}

	return r, nil
}

// Lookup resolves a slug or a provider agent id.
func (r *Registry) Lookup(key string) (Agent, error) {
	if r == nil {
		return Agent{}, ErrUnknownAgent
	}
	if a, ok := r.bySlug[strings.ToLower(key)]; ok {
		return a, nil
	}
	if a, ok := r.byProvider[key]; ok {
		return a, nil
	}
	return Agent{}, ErrUnknownAgent
}

// Agents returns all agents ordered by slug.
func (r *Registry) Agents() []Agent {
	if r == nil {
		return nil
	}
	agents := make([]Agent, 0, len(r.bySlug))
	for _, a := range r.bySlug {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Slug < agents[j].Slug })
	return agents
}

// Len returns the number of agents.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.bySlug)
}

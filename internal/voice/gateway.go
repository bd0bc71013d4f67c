package voice

import (
	"context"
)

// CredentialSource issues conversation credentials for provider agent ids.
type CredentialSource interface {
	SignedURL(ctx context.Context, agentID string) (string, error)
}

// Session is a started conversation credential.
type Session struct {
	Agent     Agent
	SignedURL string
}

// Gateway resolves agents and fetches their credentials.
type Gateway struct {
	registry *Registry
	source   CredentialSource
}

// NewGateway creates a Gateway. A nil source leaves it unconfigured.
func NewGateway(registry *Registry, source CredentialSource) *Gateway {
	return &Gateway{registry: registry, source: source}
}

// Configured reports whether credentials can be issued.
func (g *Gateway) Configured() bool {
	return g.source != nil && g.registry.Len() > 0
}

// Lookup resolves an agent key without contacting the provider.
func (g *Gateway) Lookup(key string) (Agent, error) {
	return g.registry.Lookup(key)
}

// Start fetches a conversation credential for agent.
func (g *Gateway) Start(ctx context.Context, agent Agent) (*Session, error) {
	if g.source == nil {
		return nil, ErrUnconfigured
	}

	signed, err := g.source.SignedURL(ctx, agent.ProviderID)
	if err != nil {
		return nil, err
	}

	return &Session{Agent: agent, SignedURL: signed}, nil
}

// Agents lists the agents clients may start sessions with.
func (g *Gateway) Agents() []Agent {
	return g.registry.Agents()
}

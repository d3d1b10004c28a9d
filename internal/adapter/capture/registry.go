// Package capture holds the per-platform capture strategies.
package capture

import "github.com/cwygoda/postcatch/internal/domain"

// Registry holds the capture strategy for each platform.
type Registry struct {
	strategies map[domain.Platform]domain.CaptureStrategy
	order      []domain.Platform
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[domain.Platform]domain.CaptureStrategy)}
}

// NewDefaultRegistry registers the Instagram, Twitter and Facebook strategies.
func NewDefaultRegistry(opts Options) *Registry {
	r := NewRegistry()
	r.Register(NewInstagram(opts))
	r.Register(NewTwitter(opts))
	r.Register(NewFacebook(opts))
	return r
}

// Register adds s, replacing any strategy for the same platform.
func (r *Registry) Register(s domain.CaptureStrategy) {
	p := s.Platform()
	if _, ok := r.strategies[p]; !ok {
		r.order = append(r.order, p)
	}
	r.strategies[p] = s
}

// For returns the strategy for p, or nil.
func (r *Registry) For(p domain.Platform) domain.CaptureStrategy {
	return r.strategies[p]
}

// Strategies returns all registered strategies in registration order.
func (r *Registry) Strategies() []domain.CaptureStrategy {
	out := make([]domain.CaptureStrategy, 0, len(r.order))
	for _, p := range r.order {
		out = append(out, r.strategies[p])
	}
	return out
}

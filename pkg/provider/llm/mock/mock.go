// Package mock provides a scriptable llm.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/polyglotlabs/polyglot/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider by replaying queued responses.
type Provider struct {
	mu        sync.Mutex
	responses []response
	requests  []llm.CompletionRequest
}

type response struct {
	content string
	err     error
}

// New creates an empty mock Provider. With no queued responses, Complete
// returns an empty response.
func New() *Provider {
	return &Provider{}
}

// QueueResponse appends a successful response with the given content.
func (p *Provider) QueueResponse(content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, response{content: content})
}

// QueueError appends a failing response.
func (p *Provider) QueueError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, response{err: err})
}

// Requests returns every CompletionRequest received so far.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)

	if len(p.responses) == 0 {
		return &llm.CompletionResponse{}, nil
	}
	next := p.responses[0]
	p.responses = p.responses[1:]
	if next.err != nil {
		return nil, next.err
	}
	return &llm.CompletionResponse{Content: next.content}, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.Capabilities {
	return llm.Capabilities{ContextWindow: 32_000, MaxOutputTokens: 4_096}
}

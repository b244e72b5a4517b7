// Package mock provides a test double for the llmclient.Provider interface.
//
// Use Provider in unit tests to verify that internal/quota and its callers
// send correct CompletionRequests and to feed controlled responses without a
// live LLM backend.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/podgraph/pkg/llmclient"
)

// Provider is a configurable test double implementing llmclient.Provider.
type Provider struct {
	mu sync.Mutex

	// CompleteFunc, when set, is called for every Complete invocation and
	// takes priority over CompleteResponse/CompleteErr.
	CompleteFunc func(ctx context.Context, req llmclient.CompletionRequest) (*llmclient.CompletionResponse, error)

	// CompleteResponse is returned by Complete when CompleteFunc is nil.
	CompleteResponse *llmclient.CompletionResponse

	// CompleteErr is returned by Complete when CompleteFunc is nil.
	CompleteErr error

	// CapabilitiesValue is returned by Capabilities.
	CapabilitiesValue llmclient.ModelCapabilities

	// Calls records every Complete invocation in order.
	Calls []llmclient.CompletionRequest
}

var _ llmclient.Provider = (*Provider)(nil)

// Complete implements llmclient.Provider.
func (p *Provider) Complete(ctx context.Context, req llmclient.CompletionRequest) (*llmclient.CompletionResponse, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	fn := p.CompleteFunc
	resp, err := p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return resp, err
}

// CountTokens implements llmclient.Provider with a simple length-based estimate.
func (p *Provider) CountTokens(messages []llmclient.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
	}
	return total, nil
}

// Capabilities implements llmclient.Provider.
func (p *Provider) Capabilities() llmclient.ModelCapabilities {
	return p.CapabilitiesValue
}

// CallCount returns the number of times Complete has been invoked so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

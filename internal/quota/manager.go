package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/MrWong99/podgraph/internal/pipelineerr"
	"github.com/MrWong99/podgraph/pkg/llmclient"
	"github.com/MrWong99/podgraph/pkg/model"
)

// keyState bundles one key's provider, usage counters, and per-operation
// circuit breakers.
type keyState struct {
	provider   llmclient.Provider
	paidTier   bool
	usage      model.KeyUsage
	breakers   map[string]*keyBreaker
	breakersMu sync.Mutex
}

func (k *keyState) breakerFor(operation string, cfg Config) *keyBreaker {
	k.breakersMu.Lock()
	defer k.breakersMu.Unlock()
	if k.breakers == nil {
		k.breakers = make(map[string]*keyBreaker)
	}
	cb, ok := k.breakers[operation]
	if !ok {
		cb = newKeyBreaker(operation, cfg)
		k.breakers[operation] = cb
	}
	return cb
}

// Manager is the quota-aware LLM client. It holds one llmclient.Provider per
// configured key and is the sole path the pipeline uses to call an LLM.
//
// Manager is safe for concurrent use. The key usage table is protected by a
// single mutex held only across selection and post-call accounting, never
// across the network call itself, so calls against different keys proceed
// concurrently.
type Manager struct {
	cfg     Config
	keys    []*keyState
	mu      sync.Mutex
	rrIndex int
	logger  *slog.Logger
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithLogger attaches a structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// New constructs a Manager from cfg and one llmclient.Provider per key, in
// the same order as cfg.Keys. providers must have the same length as
// cfg.Keys; callers typically build each Provider via pkg/llmclient/anyllm
// using the matching KeyConfig.APIKey.
//
// New attempts to load persisted usage counters from cfg.UsageFilePath; a
// missing or unreadable file is not an error — the manager simply starts
// with zeroed counters.
func New(cfg Config, providers []llmclient.Provider, opts ...Option) (*Manager, error) {
	cfg = cfg.withDefaults()
	if len(cfg.Keys) == 0 {
		return nil, fmt.Errorf("quota: at least one API key must be configured")
	}
	if len(providers) != len(cfg.Keys) {
		return nil, fmt.Errorf("quota: got %d providers for %d configured keys", len(providers), len(cfg.Keys))
	}

	m := &Manager{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}

	m.keys = make([]*keyState, len(cfg.Keys))
	for i, kc := range cfg.Keys {
		m.keys[i] = &keyState{
			provider: providers[i],
			paidTier: kc.IsPaidTier,
			usage:    model.KeyUsage{IsAvailable: true, IsPaidTier: kc.IsPaidTier},
		}
	}

	if persisted, err := loadUsage(cfg.UsageFilePath); err != nil {
		m.logger.Warn("quota: failed to load persisted usage state, starting fresh", "error", err)
	} else {
		for i, u := range persisted {
			if i < len(m.keys) {
				m.keys[i].usage.RequestsToday = u.RequestsToday
				m.keys[i].usage.TokensToday = u.TokensToday
				m.keys[i].usage.LastRequestTime = u.LastRequestTime
				m.keys[i].usage.LastResetDate = u.LastResetDate
			}
		}
	}

	return m, nil
}

// ChatRequest is the input to Chat and ChatJSON.
type ChatRequest struct {
	SystemPrompt string
	Messages     []llmclient.Message
	Temperature  float64
	MaxTokens    int
}

// Chat sends req to the next eligible key and returns the model's reply
// text. It retries transient failures per Config.RetryAttempts and returns
// pipelineerr.QuotaExceeded if no key is or will become eligible.
func (m *Manager) Chat(ctx context.Context, req ChatRequest) (string, error) {
	resp, err := m.complete(ctx, "chat", llmclient.CompletionRequest{
		SystemPrompt: req.SystemPrompt,
		Messages:     req.Messages,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// ChatJSON sends req with schema attached as an advisory JSON Schema and
// returns the raw JSON object the model produced. Callers (internal/speaker,
// internal/convanalysis, internal/extraction) are responsible for validating
// the result against schema; ChatJSON does not parse or validate — it only
// forwards the schema to providers with native JSON-mode support.
func (m *Manager) ChatJSON(ctx context.Context, req ChatRequest, schema map[string]any) (json.RawMessage, error) {
	resp, err := m.complete(ctx, "chat_json", llmclient.CompletionRequest{
		SystemPrompt: req.SystemPrompt,
		Messages:     req.Messages,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		JSONSchema:   schema,
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(resp.Content), nil
}

// complete is the shared selection + retry + accounting path for Chat and
// ChatJSON. operation scopes the circuit breaker and token estimate.
func (m *Manager) complete(ctx context.Context, operation string, req llmclient.CompletionRequest) (*llmclient.CompletionResponse, error) {
	estimate, err := m.estimateTokens(operation, req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	excluded := make(map[int]bool)

	// attemptsUsed counts calls that actually reached a provider (and so
	// count against Config.RetryAttempts); re-selecting after a breaker
	// rejection is free, bounded instead by maxIterations so a pool of
	// entirely-open breakers can't loop forever.
	attemptsUsed := 0
	maxIterations := m.cfg.RetryAttempts + len(m.keys)

	for iter := 0; iter < maxIterations && attemptsUsed < m.cfg.RetryAttempts; iter++ {
		idx, ks, err := m.selectKey(ctx, estimate, excluded)
		if err != nil {
			if lastErr != nil {
				return nil, fmt.Errorf("quota: %s: %w (last attempt error: %w)", operation, err, lastErr)
			}
			return nil, fmt.Errorf("quota: %s: %w", operation, err)
		}

		breaker := ks.breakerFor(operation, m.cfg)
		var resp *llmclient.CompletionResponse
		callErr := breaker.call(func() error {
			var innerErr error
			resp, innerErr = ks.provider.Complete(ctx, req)
			return innerErr
		})

		if callErr == nil {
			m.recordSuccess(idx, estimate)
			return resp, nil
		}

		if callErr == errBreakerOpen {
			m.logger.Warn("quota: circuit open for key, excluding and re-selecting",
				"operation", operation, "key_index", idx)
			excluded[idx] = true
			lastErr = fmt.Errorf("%w: %v", pipelineerr.CircuitOpen, callErr)
			continue
		}

		lastErr = callErr
		attemptsUsed++
		m.logger.Warn("quota: call failed, will retry", "operation", operation, "key_index", idx, "attempt", attemptsUsed, "error", callErr)
		if attemptsUsed < m.cfg.RetryAttempts {
			backoff(attemptsUsed - 1)
		}
	}

	return nil, fmt.Errorf("quota: %s: %w: %v", operation, pipelineerr.Transient, lastErr)
}

// backoff sleeps for an exponential delay with jitter, scaled by attempt.
func backoff(attempt int) {
	base := time.Duration(1<<uint(attempt)) * 200 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(base) + 1))
	time.Sleep(base + jitter)
}

// estimateTokens over-estimates the request's token cost so daily budgets
// stay conservative even though most providers do not report exact
// pre-call token counts. It uses the first configured key's provider purely
// as a counting heuristic; counting does not depend on which key is
// eventually selected.
func (m *Manager) estimateTokens(operation string, req llmclient.CompletionRequest) (int, error) {
	if len(m.keys) == 0 {
		return 0, fmt.Errorf("quota: no keys configured")
	}
	messages := req.Messages
	if req.SystemPrompt != "" {
		messages = append([]llmclient.Message{{Role: "system", Content: req.SystemPrompt}}, messages...)
	}
	count, err := m.keys[0].provider.CountTokens(messages)
	if err != nil {
		return 0, fmt.Errorf("quota: %s: estimate tokens: %w", operation, err)
	}
	maxOut := req.MaxTokens
	if maxOut <= 0 {
		maxOut = m.keys[0].provider.Capabilities().MaxOutputTokens
	}
	return count + maxOut, nil
}

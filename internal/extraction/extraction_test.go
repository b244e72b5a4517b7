package extraction

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/podgraph/internal/pipelineerr"
	"github.com/MrWong99/podgraph/internal/quota"
	"github.com/MrWong99/podgraph/pkg/llmclient"
	"github.com/MrWong99/podgraph/pkg/llmclient/mock"
	"github.com/MrWong99/podgraph/pkg/model"
)

func newTestClient(t *testing.T, fn func(ctx context.Context, req llmclient.CompletionRequest) (*llmclient.CompletionResponse, error)) *quota.Manager {
	t.Helper()
	p := &mock.Provider{CompleteFunc: fn}
	m, err := quota.New(quota.Config{
		Keys:          []quota.KeyConfig{{APIKey: "test-key"}},
		RPM:           1000,
		RetryAttempts: 1,
		UsageFilePath: t.TempDir() + "/usage.json",
	}, []llmclient.Provider{p})
	if err != nil {
		t.Fatalf("quota.New: %v", err)
	}
	return m
}

func testUnits(n int) []model.MeaningfulUnit {
	units := make([]model.MeaningfulUnit, n)
	for i := range units {
		units[i] = model.MeaningfulUnit{ID: "unit-" + string(rune('a'+i)), Text: "some dialogue text"}
	}
	return units
}

const okCombinedResponse = `{"entities":[{"value":"Go","type":"technology","confidence":0.9}],` +
	`"quotes":[{"text":"this is great","speaker":"Alex","quote_type":"memorable","confidence":0.8}],` +
	`"insights":[{"content":"concurrency is hard","type":"opinion","confidence":0.7}],` +
	`"relationships":[{"source":"Go","target":"Alex","type":"discussed_by","confidence":0.6}]}`

const okSentimentResponse = `{"overall_polarity":"positive","overall_score":0.5,"interaction_harmony":0.8}`

func TestExtractor_Extract_SuccessInjectsUnitIDAndScores(t *testing.T) {
	client := newTestClient(t, func(ctx context.Context, req llmclient.CompletionRequest) (*llmclient.CompletionResponse, error) {
		if strings.Contains(req.SystemPrompt, "emotional tone") {
			return &llmclient.CompletionResponse{Content: okSentimentResponse}, nil
		}
		return &llmclient.CompletionResponse{Content: okCombinedResponse}, nil
	})
	e := New(Config{MaxConcurrentUnits: 2, UnitTimeout: 5 * time.Second}, client)

	result, err := e.Extract(context.Background(), "ep-1", testUnits(3))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(result.Failures) != 0 {
		t.Fatalf("Failures = %v, want none", result.Failures)
	}
	if len(result.Quotes) != 3 {
		t.Fatalf("got %d quotes, want 3", len(result.Quotes))
	}
	for _, q := range result.Quotes {
		if q.MeaningfulUnitID == "" {
			t.Errorf("quote %+v missing MeaningfulUnitID", q)
		}
		if q.ImportanceScore <= 0 {
			t.Errorf("quote %+v has zero ImportanceScore", q)
		}
	}
	for _, i := range result.Insights {
		if i.Complexity <= 0 {
			t.Errorf("insight %+v has zero Complexity", i)
		}
	}
	if len(result.Sentiments) != 3 {
		t.Fatalf("got %d sentiments, want 3", len(result.Sentiments))
	}
}

func TestExtractor_Extract_FallsBackOnCombinedParseFailure(t *testing.T) {
	var calls sync.Map // prompt substring -> count
	client := newTestClient(t, func(ctx context.Context, req llmclient.CompletionRequest) (*llmclient.CompletionResponse, error) {
		switch {
		case strings.Contains(req.SystemPrompt, "four arrays"):
			return &llmclient.CompletionResponse{Content: `not valid json`}, nil
		case strings.Contains(req.SystemPrompt, "emotional tone"):
			return &llmclient.CompletionResponse{Content: okSentimentResponse}, nil
		case strings.Contains(req.SystemPrompt, "only entities"):
			countCall(&calls, "entities")
			return &llmclient.CompletionResponse{Content: `[{"value":"Go","type":"technology","confidence":0.9}]`}, nil
		case strings.Contains(req.SystemPrompt, "only noteworthy quotes"):
			countCall(&calls, "quotes")
			return &llmclient.CompletionResponse{Content: `[{"text":"hi","speaker":"Alex"}]`}, nil
		case strings.Contains(req.SystemPrompt, "only insights"):
			countCall(&calls, "insights")
			return &llmclient.CompletionResponse{Content: `[{"content":"a fact"}]`}, nil
		case strings.Contains(req.SystemPrompt, "only relationships"):
			countCall(&calls, "relationships")
			return &llmclient.CompletionResponse{Content: `[]`}, nil
		}
		return &llmclient.CompletionResponse{Content: `{}`}, nil
	})
	e := New(Config{MaxConcurrentUnits: 2, UnitTimeout: 5 * time.Second}, client)

	result, err := e.Extract(context.Background(), "ep-1", testUnits(1))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(result.Failures) != 0 {
		t.Fatalf("Failures = %v, want none", result.Failures)
	}
	if len(result.Quotes) != 1 || result.Quotes[0].MeaningfulUnitID == "" {
		t.Fatalf("quotes = %+v, want one with MeaningfulUnitID set", result.Quotes)
	}
	for _, kind := range []string{"entities", "quotes", "insights", "relationships"} {
		v, ok := calls.Load(kind)
		if !ok || v.(int) != 1 {
			t.Errorf("fallback call for %s = %v, want exactly 1", kind, v)
		}
	}
}

func countCall(m *sync.Map, key string) {
	v, _ := m.LoadOrStore(key, 0)
	m.Store(key, v.(int)+1)
}

func TestExtractor_Extract_FailureRateAboveThresholdIsFatal(t *testing.T) {
	client := newTestClient(t, func(ctx context.Context, req llmclient.CompletionRequest) (*llmclient.CompletionResponse, error) {
		return nil, context.DeadlineExceeded
	})
	e := New(Config{MaxConcurrentUnits: 2, UnitTimeout: 50 * time.Millisecond}, client)

	_, err := e.Extract(context.Background(), "ep-1", testUnits(4))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if _, ok := err.(*pipelineerr.ExtractionError); !ok {
		t.Fatalf("error = %v (%T), want *pipelineerr.ExtractionError", err, err)
	}
}

// failableUnits returns n units whose text marks the first failCount of
// them so a test client can fail exactly those units deterministically.
func failableUnits(n, failCount int) []model.MeaningfulUnit {
	units := make([]model.MeaningfulUnit, n)
	for i := range units {
		text := fmt.Sprintf("ok-%d", i)
		if i < failCount {
			text = fmt.Sprintf("failme-%d", i)
		}
		units[i] = model.MeaningfulUnit{ID: fmt.Sprintf("unit-%d", i), Text: text}
	}
	return units
}

// failingClient always errors for units whose text is marked "failme" (on
// both the combined call and its per-field fallback) and otherwise answers
// normally, so the caller controls the exact failure rate by unit count.
// BreakerMaxFailures is set high enough that the shared (key, "chat_json")
// circuit breaker never trips mid-batch and starves the concurrently
// running successful units of their own calls. RPD is raised above the
// free-tier default of 25 so the daily request budget does not run out
// partway through the larger batches.
func failingClient(t *testing.T) *quota.Manager {
	t.Helper()
	p := &mock.Provider{CompleteFunc: func(ctx context.Context, req llmclient.CompletionRequest) (*llmclient.CompletionResponse, error) {
		if len(req.Messages) > 0 && strings.Contains(req.Messages[0].Content, "failme") {
			return nil, context.DeadlineExceeded
		}
		if strings.Contains(req.SystemPrompt, "emotional tone") {
			return &llmclient.CompletionResponse{Content: okSentimentResponse}, nil
		}
		return &llmclient.CompletionResponse{Content: okCombinedResponse}, nil
	}}
	m, err := quota.New(quota.Config{
		Keys:               []quota.KeyConfig{{APIKey: "test-key"}},
		RPM:                1000,
		RPD:                1000,
		RetryAttempts:      1,
		BreakerMaxFailures: 1000,
		UsageFilePath:      t.TempDir() + "/usage.json",
	}, []llmclient.Provider{p})
	if err != nil {
		t.Fatalf("quota.New: %v", err)
	}
	return m
}

// TestExtractor_Extract_PartialFailureCompletesWithWarning covers spec §8
// scenario 5: 10 units, 3 fail (30%), the batch still completes and 7
// units carry extracted knowledge.
func TestExtractor_Extract_PartialFailureCompletesWithWarning(t *testing.T) {
	e := New(Config{MaxConcurrentUnits: 4, UnitTimeout: 2 * time.Second}, failingClient(t))

	result, err := e.Extract(context.Background(), "ep-1", failableUnits(10, 3))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(result.Failures) != 3 {
		t.Fatalf("Failures = %d, want 3", len(result.Failures))
	}
	if len(result.Quotes) != 7 {
		t.Fatalf("got %d quotes, want 7 (one per successful unit)", len(result.Quotes))
	}
	if len(result.Sentiments) != 7 {
		t.Fatalf("got %d sentiments, want 7", len(result.Sentiments))
	}
}

// TestExtractor_Extract_FailureRateBoundary covers the 49%/51% boundary
// named in spec §8: under the default 0.5 threshold, 49/100 failing units
// still completes while 51/100 is fatal.
func TestExtractor_Extract_FailureRateBoundary(t *testing.T) {
	tests := []struct {
		name       string
		failCount  int
		wantErr    bool
		wantFailed int
	}{
		{name: "49 percent completes", failCount: 49, wantErr: false, wantFailed: 49},
		{name: "51 percent is fatal", failCount: 51, wantErr: true, wantFailed: 51},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(Config{MaxConcurrentUnits: 8, UnitTimeout: 2 * time.Second}, failingClient(t))
			result, err := e.Extract(context.Background(), "ep-1", failableUnits(100, tt.failCount))

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if _, ok := err.(*pipelineerr.ExtractionError); !ok {
					t.Fatalf("error = %v (%T), want *pipelineerr.ExtractionError", err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if len(result.Failures) != tt.wantFailed {
				t.Fatalf("Failures = %d, want %d", len(result.Failures), tt.wantFailed)
			}
			if len(result.Quotes) != 100-tt.wantFailed {
				t.Fatalf("got %d quotes, want %d", len(result.Quotes), 100-tt.wantFailed)
			}
		})
	}
}

func TestExtractor_Extract_EmptyUnitsReturnsEmptyResult(t *testing.T) {
	client := newTestClient(t, func(ctx context.Context, req llmclient.CompletionRequest) (*llmclient.CompletionResponse, error) {
		t.Fatal("no calls expected for empty unit batch")
		return nil, nil
	})
	e := New(Config{}, client)

	result, err := e.Extract(context.Background(), "ep-1", nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(result.Entities) != 0 || len(result.Failures) != 0 {
		t.Fatalf("result = %+v, want empty", result)
	}
}

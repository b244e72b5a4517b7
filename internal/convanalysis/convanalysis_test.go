package convanalysis

import (
	"context"
	"testing"

	"github.com/MrWong99/podgraph/internal/pipelineerr"
	"github.com/MrWong99/podgraph/internal/quota"
	"github.com/MrWong99/podgraph/pkg/llmclient"
	"github.com/MrWong99/podgraph/pkg/llmclient/mock"
	"github.com/MrWong99/podgraph/pkg/model"
)

func newTestClient(t *testing.T, p llmclient.Provider) *quota.Manager {
	t.Helper()
	m, err := quota.New(quota.Config{
		Keys:          []quota.KeyConfig{{APIKey: "test-key"}},
		UsageFilePath: t.TempDir() + "/usage.json",
	}, []llmclient.Provider{p})
	if err != nil {
		t.Fatalf("quota.New: %v", err)
	}
	return m
}

func tenSegments() []model.Segment {
	segs := make([]model.Segment, 10)
	for i := range segs {
		segs[i] = model.Segment{ID: "s", Text: "hello", Speaker: "SPEAKER_1"}
	}
	return segs
}

func TestAnalyzer_Analyze_Success(t *testing.T) {
	resp := `{"units":[{"start_index":0,"end_index":9,"unit_type":"discussion"}],"themes":[],"boundaries":[]}`
	p := &mock.Provider{CompleteResponse: &llmclient.CompletionResponse{Content: resp}}
	a := New(Config{}, newTestClient(t, p))

	structure, err := a.Analyze(context.Background(), "ep-1", tenSegments())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(structure.Units) != 1 {
		t.Fatalf("got %d units, want 1", len(structure.Units))
	}
}

func TestAnalyzer_Analyze_FailsOnLowCoverageAfterRetries(t *testing.T) {
	resp := `{"units":[{"start_index":0,"end_index":2,"unit_type":"intro"}],"themes":[],"boundaries":[]}`
	p := &mock.Provider{CompleteResponse: &llmclient.CompletionResponse{Content: resp}}
	a := New(Config{Attempts: 2, RetryGap: 0}, newTestClient(t, p))

	_, err := a.Analyze(context.Background(), "ep-1", tenSegments())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	caErr, ok := err.(*pipelineerr.ConversationAnalysisError)
	if !ok {
		t.Fatalf("error = %v (%T), want *pipelineerr.ConversationAnalysisError", err, err)
	}
	if caErr.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", caErr.Attempts)
	}
	if p.CallCount() != 2 {
		t.Errorf("CallCount = %d, want 2", p.CallCount())
	}
}

func TestAnalyzer_Analyze_RecoversOnSecondAttempt(t *testing.T) {
	calls := 0
	p := &mock.Provider{
		CompleteFunc: func(ctx context.Context, req llmclient.CompletionRequest) (*llmclient.CompletionResponse, error) {
			calls++
			if calls == 1 {
				return &llmclient.CompletionResponse{Content: `{"units":[],"themes":[],"boundaries":[]}`}, nil
			}
			return &llmclient.CompletionResponse{Content: `{"units":[{"start_index":0,"end_index":9,"unit_type":"discussion"}],"themes":[],"boundaries":[]}`}, nil
		},
	}
	a := New(Config{Attempts: 2, RetryGap: 0}, newTestClient(t, p))

	structure, err := a.Analyze(context.Background(), "ep-1", tenSegments())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(structure.Units) != 1 {
		t.Fatalf("got %d units, want 1", len(structure.Units))
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

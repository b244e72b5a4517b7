package speaker

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

func segs() []model.Segment {
	return []model.Segment{
		{ID: "s1", Text: "Welcome to the show", Speaker: "SPEAKER_1"},
		{ID: "s2", Text: "Thanks for having me", Speaker: "SPEAKER_2"},
		{ID: "s3", Text: "Let's get started", Speaker: "SPEAKER_1"},
	}
}

func TestIdentifier_Identify_AppliesMappingAboveFloor(t *testing.T) {
	resp := `{"SPEAKER_1":{"name":"Alex Host","confidence":0.9},"SPEAKER_2":{"name":"Jamie Guest","confidence":0.4}}`
	p := &mock.Provider{CompleteResponse: &llmclient.CompletionResponse{Content: resp}}
	client := newTestClient(t, p)
	id := New(Config{MinConfidence: 0.5}, client)

	out, err := id.Identify(context.Background(), "ep-1", segs(), EpisodeMetadata{Title: "Ep 1"})
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if out[0].Speaker != "Alex Host" || out[0].Confidence != 0.9 {
		t.Errorf("segment 0 = %+v, want Alex Host/0.9", out[0])
	}
	if out[2].Speaker != "Alex Host" {
		t.Errorf("segment 2 = %+v, want Alex Host", out[2])
	}
	if out[1].Speaker != "SPEAKER_2" {
		t.Errorf("below-floor segment 1 = %+v, want generic label retained", out[1])
	}
}

func TestIdentifier_Identify_FailsAfterRetriesWhenNoSpeakers(t *testing.T) {
	p := &mock.Provider{CompleteResponse: &llmclient.CompletionResponse{Content: `{}`}}
	client := newTestClient(t, p)
	id := New(Config{Attempts: 2, RetryGap: 0}, client)

	_, err := id.Identify(context.Background(), "ep-1", segs(), EpisodeMetadata{})
	var sErr *pipelineerr.SpeakerIdentificationError
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !asSpeakerErr(err, &sErr) {
		t.Fatalf("error = %v, want *pipelineerr.SpeakerIdentificationError", err)
	}
	if sErr.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", sErr.Attempts)
	}
	if p.CallCount() != 2 {
		t.Errorf("CallCount = %d, want 2", p.CallCount())
	}
}

func TestIdentifier_Identify_SucceedsOnSecondAttempt(t *testing.T) {
	calls := 0
	p := &mock.Provider{
		CompleteFunc: func(ctx context.Context, req llmclient.CompletionRequest) (*llmclient.CompletionResponse, error) {
			calls++
			if calls == 1 {
				return &llmclient.CompletionResponse{Content: `{}`}, nil
			}
			return &llmclient.CompletionResponse{Content: `{"SPEAKER_1":{"name":"Alex","confidence":0.8}}`}, nil
		},
	}
	client := newTestClient(t, p)
	id := New(Config{Attempts: 2, RetryGap: 0}, client)

	out, err := id.Identify(context.Background(), "ep-1", segs(), EpisodeMetadata{})
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if out[0].Speaker != "Alex" {
		t.Errorf("segment 0 = %+v, want Alex", out[0])
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func asSpeakerErr(err error, target **pipelineerr.SpeakerIdentificationError) bool {
	if e, ok := err.(*pipelineerr.SpeakerIdentificationError); ok {
		*target = e
		return true
	}
	return false
}

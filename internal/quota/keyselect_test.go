package quota

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/podgraph/pkg/llmclient"
	"github.com/MrWong99/podgraph/pkg/llmclient/mock"
	"github.com/MrWong99/podgraph/pkg/model"
)

func TestManager_Chat_RoundRobinAlternatesKeys(t *testing.T) {
	a := &mock.Provider{CompleteResponse: &llmclient.CompletionResponse{Content: "a"}}
	b := &mock.Provider{CompleteResponse: &llmclient.CompletionResponse{Content: "b"}}

	cfg := Config{RPM: 1000, Rotation: RotationRoundRobin}
	m := newTestManager(t, cfg, a, b)

	ctx := context.Background()
	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		got, err := m.Chat(ctx, ChatRequest{Messages: []llmclient.Message{{Role: "user", Content: "hi"}}})
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
		seen[got]++
	}

	if seen["a"] == 0 || seen["b"] == 0 {
		t.Fatalf("expected round robin to alternate between both keys, got %v", seen)
	}
}

func TestResetStaleCounters_ResetsOnNewDay(t *testing.T) {
	now := time.Now().UTC()
	ks := &keyState{usage: model.KeyUsage{
		RequestsToday: 10,
		TokensToday:   5000,
		LastResetDate: now.AddDate(0, 0, -1),
		IsAvailable:   true,
	}}
	keys := []*keyState{ks}

	resetStaleCounters(keys, now)

	if ks.usage.RequestsToday != 0 || ks.usage.TokensToday != 0 {
		t.Fatalf("expected stale counters to reset, got requests=%d tokens=%d", ks.usage.RequestsToday, ks.usage.TokensToday)
	}
}

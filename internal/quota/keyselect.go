package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/podgraph/internal/pipelineerr"
)

// selectKey implements the key selection algorithm: reset stale daily
// counters, find the first (or next, in round-robin mode) eligible key not
// in excluded, preferring any eligible paid-tier key over free-tier keys,
// and waiting out a bounded per-minute spacing gap if a key would become
// eligible shortly. Returns pipelineerr.QuotaExceeded if no key is or will
// become eligible before the day's budget resets.
func (m *Manager) selectKey(ctx context.Context, estimate int, excluded map[int]bool) (int, *keyState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	resetStaleCounters(m.keys, now)

	// Prefer a paid-tier key if one is eligible; paid keys skip free-tier
	// spacing and daily budgets entirely.
	for i, ks := range m.keys {
		if excluded[i] || !ks.paidTier {
			continue
		}
		if ks.usage.IsAvailable {
			return i, ks, nil
		}
	}

	// Among free-tier keys, find every key eligible right now.
	var eligible []int
	for i, ks := range m.keys {
		if excluded[i] || ks.paidTier {
			continue
		}
		if keyEligible(ks, estimate, m.cfg, now) {
			eligible = append(eligible, i)
		}
	}

	if len(eligible) > 0 {
		idx := eligible[0]
		if m.cfg.Rotation == RotationRoundRobin {
			idx = eligible[m.rrIndex%len(eligible)]
			m.rrIndex++
		}
		return idx, m.keys[idx], nil
	}

	// No key eligible this instant. Check whether any key's RPM spacing gap
	// will clear within the gap window itself, and wait for the soonest one.
	minWait := time.Duration(-1)
	waitIdx := -1
	for i, ks := range m.keys {
		if excluded[i] || ks.paidTier || !ks.usage.IsAvailable {
			continue
		}
		if ks.usage.RequestsToday >= m.cfg.RPD || ks.usage.TokensToday+estimate >= m.cfg.TPD {
			continue // would not become eligible today regardless of wait
		}
		gap := time.Duration(float64(time.Minute) / float64(m.cfg.RPM))
		wait := gap - now.Sub(ks.usage.LastRequestTime)
		if wait <= 0 {
			continue // should have been eligible above; defensive only
		}
		if minWait < 0 || wait < minWait {
			minWait = wait
			waitIdx = i
		}
	}

	if waitIdx < 0 {
		return -1, nil, fmt.Errorf("%w: no key has remaining daily budget", pipelineerr.QuotaExceeded)
	}

	m.logger.Info("quota: waiting for key spacing gap to clear", "key_index", waitIdx, "wait", minWait)
	m.mu.Unlock()
	select {
	case <-time.After(minWait):
	case <-ctx.Done():
		m.mu.Lock()
		return -1, nil, fmt.Errorf("%w: %v", pipelineerr.Transient, ctx.Err())
	}
	m.mu.Lock()

	return waitIdx, m.keys[waitIdx], nil
}

// resetStaleCounters zeroes RequestsToday/TokensToday for any key whose
// LastResetDate predates the current UTC date.
func resetStaleCounters(keys []*keyState, now time.Time) {
	today := now.Truncate(24 * time.Hour)
	for _, ks := range keys {
		last := ks.usage.LastResetDate.Truncate(24 * time.Hour)
		if ks.usage.LastResetDate.IsZero() || last.Before(today) {
			ks.usage.RequestsToday = 0
			ks.usage.TokensToday = 0
			ks.usage.LastResetDate = today
		}
	}
}

// keyEligible reports whether ks may serve a request of roughly estimate
// tokens right now, per the free-tier budget and RPM spacing rules.
func keyEligible(ks *keyState, estimate int, cfg Config, now time.Time) bool {
	if !ks.usage.IsAvailable {
		return false
	}
	if ks.usage.RequestsToday >= cfg.RPD {
		return false
	}
	if ks.usage.TokensToday+estimate >= cfg.TPD {
		return false
	}
	if !ks.usage.LastRequestTime.IsZero() {
		gap := time.Duration(float64(time.Minute) / float64(cfg.RPM))
		if now.Sub(ks.usage.LastRequestTime) < gap {
			return false
		}
	}
	return true
}

// recordSuccess updates key idx's usage counters after a successful call
// and persists the usage table to disk. Persistence failures are logged,
// never returned — checkpointing usage is an optimization.
func (m *Manager) recordSuccess(idx int, tokensCharged int) {
	m.mu.Lock()
	ks := m.keys[idx]
	ks.usage.RequestsToday++
	ks.usage.TokensToday += tokensCharged
	ks.usage.LastRequestTime = time.Now().UTC()
	snapshot := m.usageSnapshotLocked()
	m.mu.Unlock()

	if err := saveUsage(m.cfg.UsageFilePath, snapshot); err != nil {
		m.logger.Warn("quota: failed to persist usage state", "error", err)
	}
}

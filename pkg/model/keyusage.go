package model

import "time"

// KeyUsage tracks one LLM API key's consumption against its daily budget,
// persisted by internal/quota so usage survives process restarts.
type KeyUsage struct {
	// RequestsToday and TokensToday count usage since LastResetDate.
	RequestsToday int `json:"requests_today"`
	TokensToday   int `json:"tokens_today"`

	// LastRequestTime is used for the per-minute (RPM) rate limit window.
	LastRequestTime time.Time `json:"last_request_time"`

	// LastResetDate is date-only (time-of-day truncated to midnight UTC);
	// when "today" advances past it, RequestsToday/TokensToday reset to 0.
	LastResetDate time.Time `json:"last_reset_date"`

	// IsAvailable is false while the key's circuit breaker is open or the
	// key has been manually disabled (e.g. reported invalid by the backend).
	IsAvailable bool `json:"is_available"`

	// IsPaidTier marks a key as exempt from the free-tier RPD/TPD budgets;
	// internal/quota does not apply RPM spacing to paid keys either.
	IsPaidTier bool `json:"is_paid_tier"`
}

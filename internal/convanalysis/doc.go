// Package convanalysis groups an episode's identified segments into
// conversational units, themes, and topic boundaries via a single
// internal/quota.ChatJSON call.
//
// Unlike internal/speaker, there is no floor-based partial success here: the
// returned model.ConversationStructure must produce at least one unit and
// cover at least 90% of segments, checked locally after every attempt, or
// the phase fails outright with pipelineerr.ConversationAnalysisError.
package convanalysis

package extraction

import (
	"strings"

	"github.com/MrWong99/podgraph/pkg/model"
)

// scoreQuotes attaches a local, no-LLM importance score to every quote
// based on its extraction confidence and length relative to other quotes
// surfaced for the same unit.
func scoreQuotes(quotes []model.Quote) {
	for i := range quotes {
		quotes[i].ImportanceScore = clamp01(0.2 + 0.5*quotes[i].Confidence + lengthBonus(quotes[i].Text, 0.3, 40))
	}
}

// scoreInsights attaches a local complexity estimate based on how many
// supporting entities the insight cites and its length.
func scoreInsights(insights []model.Insight) {
	for i := range insights {
		entityBonus := clamp01(float64(len(insights[i].SupportingEntities)) * 0.08)
		insights[i].Complexity = clamp01(0.1 + entityBonus + lengthBonus(insights[i].Content, 0.3, 60))
	}
}

func lengthBonus(text string, cap float64, wordsForCap int) float64 {
	words := len(strings.Fields(text))
	if wordsForCap <= 0 {
		return 0
	}
	fraction := float64(words) / float64(wordsForCap)
	if fraction > 1 {
		fraction = 1
	}
	return fraction * cap
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

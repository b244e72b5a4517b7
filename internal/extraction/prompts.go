package extraction

const combinedSystemPrompt = `You extract structured knowledge from one span of a podcast transcript. ` +
	`Respond with a JSON object with four arrays: "entities" (value, type, confidence, properties), ` +
	`"quotes" (text, speaker, quote_type, confidence), "insights" (content, type, confidence, ` +
	`supporting_entities), and "relationships" (source, target, type, confidence, by entity value). ` +
	`Use whatever type vocabulary best fits what you find — do not limit yourself to a fixed list.`

const sentimentSystemPrompt = `You analyze the emotional tone of one span of a podcast transcript. ` +
	`Respond with a JSON object: overall_polarity, overall_score (-1.0 to 1.0), per_speaker ` +
	`(speaker label to polarity), emotional_moments (timestamp, speaker, emotion, intensity), ` +
	`trajectory (a short list of sentiment samples across the span), interaction_harmony (0.0 to 1.0), ` +
	`and discovered_tags for any other sentiment descriptors. Confidence here is inherently lower than ` +
	`for factual extraction; still commit to a best estimate.`

var combinedSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"entities":      entitySchema,
		"quotes":        quoteSchema,
		"insights":      insightSchema,
		"relationships": relationshipSchema,
	},
}

var sentimentSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"overall_polarity":    map[string]any{"type": "string"},
		"overall_score":       map[string]any{"type": "number"},
		"per_speaker":         map[string]any{"type": "object"},
		"emotional_moments":   map[string]any{"type": "array"},
		"trajectory":          map[string]any{"type": "array", "items": map[string]any{"type": "number"}},
		"interaction_harmony": map[string]any{"type": "number"},
		"discovered_tags":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
}

var entitySchema = map[string]any{
	"type": "array",
	"items": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"value":      map[string]any{"type": "string"},
			"type":       map[string]any{"type": "string"},
			"confidence": map[string]any{"type": "number"},
			"properties": map[string]any{"type": "object"},
		},
		"required": []string{"value", "type"},
	},
}

var quoteSchema = map[string]any{
	"type": "array",
	"items": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text":       map[string]any{"type": "string"},
			"speaker":    map[string]any{"type": "string"},
			"quote_type": map[string]any{"type": "string"},
			"confidence": map[string]any{"type": "number"},
		},
		"required": []string{"text", "speaker"},
	},
}

var insightSchema = map[string]any{
	"type": "array",
	"items": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content":              map[string]any{"type": "string"},
			"type":                 map[string]any{"type": "string"},
			"confidence":           map[string]any{"type": "number"},
			"supporting_entities":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"content"},
	},
}

var relationshipSchema = map[string]any{
	"type": "array",
	"items": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"source":     map[string]any{"type": "string"},
			"target":     map[string]any{"type": "string"},
			"type":       map[string]any{"type": "string"},
			"confidence": map[string]any{"type": "number"},
		},
		"required": []string{"source", "target", "type"},
	},
}

var fallbackSystemPrompts = map[string]string{
	"entities":      `Extract only entities from this transcript span as a JSON array, each with value, type, confidence, properties.`,
	"quotes":        `Extract only noteworthy quotes from this transcript span as a JSON array, each with text, speaker, quote_type, confidence.`,
	"insights":      `Extract only insights from this transcript span as a JSON array, each with content, type, confidence, supporting_entities.`,
	"relationships": `Extract only relationships between entities in this transcript span as a JSON array, each with source, target, type, confidence.`,
}

var fallbackSchemas = map[string]map[string]any{
	"entities":      entitySchema,
	"quotes":        quoteSchema,
	"insights":      insightSchema,
	"relationships": relationshipSchema,
}

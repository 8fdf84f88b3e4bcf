package engine

import (
	"maps"

	"github.com/viralink-ai/viralink/internal/agents"
	"github.com/viralink-ai/viralink/internal/model"
	"github.com/viralink-ai/viralink/internal/signing"
)

// narratives maps agent -> completed label -> emotion -> narrative copy.
// Each status table carries a "default" entry used when the emotion tag is
// unrecognized.
var narratives = map[string]map[model.StageStatus]map[string]string{
	agents.AgentTrendScanner: {
		"scanned": {
			"excited": "The trend radar is buzzing! We spotted waves your audience is already riding.",
			"curious": "Interesting patterns surfaced — these trends are quietly gaining momentum.",
			"focused": "Trend scan complete. The strongest signals are ranked and ready.",
			"default": "Trend scan complete. Relevant signals have been collected for your platforms.",
		},
	},
	agents.AgentVideoScriptor: {
		"scripted": {
			"excited": "Your script is ready and it pops! Every beat is tuned for maximum energy.",
			"curious": "A script took shape around the questions your audience keeps asking.",
			"focused": "Script drafted. Hook, body, and call to action are locked in.",
			"default": "Video script generated from the scanned trends.",
		},
	},
	agents.AgentCreativeSynthesizer: {
		"generated": {
			"excited": "Creative assets are out of the oven — bold, bright, and ready to turn heads!",
			"curious": "The creatives lean into intrigue; each variant teases a different angle.",
			"focused": "Creative synthesis done. Assets match the script and platform specs.",
			"default": "Creative assets generated from the approved script.",
		},
	},
	agents.AgentPostScheduler: {
		"scheduled": {
			"excited": "Posts are queued at peak hype windows — the countdown has started!",
			"curious": "The schedule probes different time slots to learn what lands best.",
			"focused": "Publishing schedule set within the requested window.",
			"default": "Posts scheduled across the selected platforms.",
		},
	},
	agents.AgentAnalyticsReporter: {
		"analyzed": {
			"excited": "Numbers are in — and there are spikes worth celebrating!",
			"curious": "The report highlights a few unexpected audience behaviors worth a look.",
			"focused": "Analytics report compiled for the campaign window.",
			"default": "Performance report generated for the scheduled posts.",
		},
	},
}

// suggestions maps agent -> completed label -> follow-up suggestions.
var suggestions = map[string]map[model.StageStatus][]string{
	agents.AgentTrendScanner: {
		"scanned": {
			"Review the top-ranked trends before scripting",
			"Narrow platforms to where the strongest trends live",
		},
	},
	agents.AgentVideoScriptor: {
		"scripted": {
			"Read the hook out loud — it should land in under three seconds",
			"Consider an alternate call to action for each platform",
		},
	},
	agents.AgentCreativeSynthesizer: {
		"generated": {
			"Preview assets at platform-native aspect ratios",
			"Pick the two strongest variants for A/B publishing",
			"Check captions against platform length limits",
		},
	},
	agents.AgentPostScheduler: {
		"scheduled": {
			"Confirm time zones match your audience's peak hours",
			"Leave the first slot open for a teaser post",
		},
	},
	agents.AgentAnalyticsReporter: {
		"analyzed": {
			"Compare reach against your last three campaigns",
			"Feed the winning format back into the next route",
		},
	},
}

const (
	genericNarrative  = "Stage completed successfully."
	genericSuggestion = "Review the stage output before continuing"
)

// Enrich shapes a raw executor response for storage: it attaches a narrative
// selected by (agent, status, emotion) and a list of follow-up suggestions,
// and signs any asset URL present. Idempotent: output that already carries a
// narrative is returned unchanged. The input map is not mutated.
func Enrich(raw map[string]any, emotion, agent string, status model.StageStatus, signer *signing.Signer) map[string]any {
	if raw == nil {
		raw = map[string]any{}
	}
	if _, ok := raw["narrative"]; ok {
		return raw
	}

	out := make(map[string]any, len(raw)+2)
	maps.Copy(out, raw)

	out["narrative"] = narrativeFor(agent, status, emotion)
	out["suggestions"] = suggestionsFor(agent, status)

	if signer != nil && signer.Enabled() {
		if assetURL, ok := out["assetUrl"].(string); ok && assetURL != "" {
			out["assetUrl"] = signer.Sign(assetURL)
		}
	}
	return out
}

func narrativeFor(agent string, status model.StageStatus, emotion string) string {
	byStatus, ok := narratives[agent]
	if !ok {
		return genericNarrative
	}
	byEmotion, ok := byStatus[status]
	if !ok {
		return genericNarrative
	}
	if n, ok := byEmotion[emotion]; ok {
		return n
	}
	return byEmotion["default"]
}

func suggestionsFor(agent string, status model.StageStatus) []string {
	if byStatus, ok := suggestions[agent]; ok {
		if s, ok := byStatus[status]; ok {
			return s
		}
	}
	return []string{genericSuggestion}
}

package agents_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralink-ai/viralink/internal/agents"
	"github.com/viralink-ai/viralink/internal/model"
)

func TestBuiltinLabels(t *testing.T) {
	r := agents.NewRegistry()

	tests := []struct {
		agent      string
		processing model.StageStatus
		completed  model.StageStatus
		progress   model.RouteStatus
		path       string
	}{
		{agents.AgentTrendScanner, "scanning", "scanned", "scanning_trends", "/scan"},
		{agents.AgentVideoScriptor, "scripting", "scripted", "generating_script", "/generate-script"},
		{agents.AgentCreativeSynthesizer, "generating", "generated", "creating_content", "/api/agents/creative-synthesizer"},
		{agents.AgentPostScheduler, "scheduling", "scheduled", "scheduling_posts", "/schedule"},
		{agents.AgentAnalyticsReporter, "analyzing", "analyzed", "analyzing_performance", "/generate-report"},
	}

	for _, tt := range tests {
		t.Run(tt.agent, func(t *testing.T) {
			st, ok := r.Lookup(tt.agent)
			require.True(t, ok)
			assert.Equal(t, tt.processing, st.ProcessingLabel)
			assert.Equal(t, tt.completed, st.CompletedLabel)
			assert.Equal(t, tt.progress, st.RouteProgressLabel)
			assert.Equal(t, tt.path, st.Path)
			require.NotNil(t, st.BuildPayload)
		})
	}
}

func TestUnknownAgentFallbacks(t *testing.T) {
	r := agents.NewRegistry()

	assert.False(t, r.Known("meme-generator"))
	assert.Equal(t, agents.FallbackProcessingLabel, r.ProcessingLabel("meme-generator"))
	assert.Equal(t, agents.FallbackCompletedLabel, r.CompletedLabel("meme-generator"))
	assert.Equal(t, agents.FallbackProgressLabel, r.RouteProgressLabel("meme-generator"))
}

func TestRegisterCustomStageType(t *testing.T) {
	r := agents.NewRegistry()
	r.Register(agents.StageType{
		Agent:              "meme-generator",
		ProcessingLabel:    "meming",
		CompletedLabel:     "memed",
		RouteProgressLabel: "generating_memes",
		Path:               "/meme",
		BuildPayload:       func(agents.StageContext) map[string]any { return nil },
	})

	assert.True(t, r.Known("meme-generator"))
	assert.Equal(t, model.StageStatus("meming"), r.ProcessingLabel("meme-generator"))
}

func testRoute() model.Route {
	start := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	return model.Route{
		SessionID:     "session-1",
		Emotion:       "curious",
		Platforms:     []string{"tiktok"},
		ScheduleStart: start,
		ScheduleEnd:   start.Add(72 * time.Hour),
		Stages: []model.Stage{
			{Order: 1, Agent: agents.AgentTrendScanner, Output: map[string]any{
				"trends": []any{"trend-a"},
			}},
			{Order: 2, Agent: agents.AgentVideoScriptor, Output: map[string]any{
				"script": "hook, body, cta",
				"tone":   "playful",
			}},
			{Order: 3, Agent: agents.AgentCreativeSynthesizer, Output: map[string]any{
				"assetUrl": "https://cdn.viralink.ai/assets/v1.mp4",
			}},
			{Order: 4, Agent: agents.AgentPostScheduler},
		},
	}
}

func TestPayloadDataFlow(t *testing.T) {
	r := agents.NewRegistry()
	route := testRoute()
	c := agents.StageContext{Route: route}

	scanner, _ := r.Lookup(agents.AgentTrendScanner)
	p := scanner.BuildPayload(c)
	assert.Equal(t, "session-1", p["session_id"])
	assert.Equal(t, []string{"tiktok"}, p["platforms"])
	assert.Equal(t, "curious", p["emotion"])

	// The scriptor pulls the scanner's stored output.
	scriptor, _ := r.Lookup(agents.AgentVideoScriptor)
	p = scriptor.BuildPayload(c)
	assert.Equal(t, route.Stages[0].Output, p["trends"])

	// The synthesizer extracts the named script field, not the whole map.
	synth, _ := r.Lookup(agents.AgentCreativeSynthesizer)
	p = synth.BuildPayload(c)
	assert.Equal(t, "hook, body, cta", p["script"])

	// The scheduler gets the synthesizer content plus the schedule window.
	sched, _ := r.Lookup(agents.AgentPostScheduler)
	p = sched.BuildPayload(c)
	assert.Equal(t, route.Stages[2].Output, p["content"])
	window, ok := p["schedule"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, route.ScheduleStart, window["start"])
	assert.Equal(t, route.ScheduleEnd, window["end"])
}

func TestScriptFallsBackToWholeOutput(t *testing.T) {
	r := agents.NewRegistry()
	route := testRoute()
	route.Stages[1].Output = map[string]any{"draft": "no script key"}

	synth, _ := r.Lookup(agents.AgentCreativeSynthesizer)
	p := synth.BuildPayload(agents.StageContext{Route: route})
	assert.Equal(t, map[string]any{"draft": "no script key"}, p["script"])
}

func TestPayloadWithMissingUpstreamOutput(t *testing.T) {
	r := agents.NewRegistry()
	route := model.Route{SessionID: "s", Stages: []model.Stage{
		{Order: 1, Agent: agents.AgentVideoScriptor},
	}}

	scriptor, _ := r.Lookup(agents.AgentVideoScriptor)
	p := scriptor.BuildPayload(agents.StageContext{Route: route})
	assert.Nil(t, p["trends"])
}

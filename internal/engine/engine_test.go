package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralink-ai/viralink/internal/agents"
	"github.com/viralink-ai/viralink/internal/engine"
	"github.com/viralink-ai/viralink/internal/model"
	"github.com/viralink-ai/viralink/internal/storage"
	"github.com/viralink-ai/viralink/internal/testutil"
)

// memStore is an in-memory engine.Store with the same version-guard semantics
// as the Postgres implementation.
type memStore struct {
	mu     sync.Mutex
	routes map[uuid.UUID]model.Route
}

func newMemStore() *memStore {
	return &memStore{routes: make(map[uuid.UUID]model.Route)}
}

func cloneRoute(r model.Route) model.Route {
	out := r
	out.Stages = make([]model.Stage, len(r.Stages))
	copy(out.Stages, r.Stages)
	return out
}

func (s *memStore) CreateRoute(_ context.Context, route model.Route) (model.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if route.ID == uuid.Nil {
		route.ID = uuid.New()
	}
	route.Version = 1
	now := time.Now().UTC()
	route.CreatedAt = now
	route.UpdatedAt = now
	s.routes[route.ID] = cloneRoute(route)
	return cloneRoute(route), nil
}

func (s *memStore) GetRoute(_ context.Context, id uuid.UUID) (model.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routes[id]
	if !ok {
		return model.Route{}, storage.ErrNotFound
	}
	return cloneRoute(r), nil
}

func (s *memStore) ListRoutesBySession(_ context.Context, sessionID string) ([]model.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Route{}
	for _, r := range s.routes {
		if r.SessionID == sessionID {
			out = append(out, cloneRoute(r))
		}
	}
	return out, nil
}

func (s *memStore) UpdateRouteProgress(_ context.Context, route model.Route) (model.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.routes[route.ID]
	if !ok {
		return model.Route{}, storage.ErrNotFound
	}
	if existing.Version != route.Version {
		return model.Route{}, storage.ErrVersionConflict
	}
	route.Version++
	route.UpdatedAt = time.Now().UTC()
	s.routes[route.ID] = cloneRoute(route)
	return cloneRoute(route), nil
}

func (s *memStore) MergeRouteMetrics(_ context.Context, id uuid.UUID, metrics map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routes[id]
	if !ok {
		return storage.ErrNotFound
	}
	if r.Metrics == nil {
		r.Metrics = map[string]any{}
	}
	for k, v := range metrics {
		r.Metrics[k] = v
	}
	s.routes[id] = r
	return nil
}

// fakeExecutor returns canned outputs per agent and can be told to fail one.
type fakeExecutor struct {
	mu        sync.Mutex
	calls     []string
	failAgent string
	outputs   map[string]map[string]any
}

func (f *fakeExecutor) Execute(_ context.Context, st agents.StageType, _ map[string]any) (map[string]any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, st.Agent)
	f.mu.Unlock()
	if st.Agent == f.failAgent {
		return nil, fmt.Errorf("executor: %s unavailable", st.Agent)
	}
	if out, ok := f.outputs[st.Agent]; ok {
		return out, nil
	}
	return map[string]any{"agent": st.Agent}, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingNotifier struct {
	mu     sync.Mutex
	routes []model.Route
}

func (n *recordingNotifier) OnRouteCompleted(_ context.Context, route model.Route) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes = append(n.routes, route)
	return nil
}

func validRequest(agentNames ...string) model.ActivateRouteRequest {
	return model.ActivateRouteRequest{
		RouteType: "viral_campaign",
		SessionID: "session-1",
		Emotion:   "excited",
		Platforms: []string{"tiktok", "instagram"},
		Agents:    agentNames,
		Schedule: model.ScheduleWindow{
			Start: time.Now().UTC(),
			End:   time.Now().UTC().Add(48 * time.Hour),
		},
	}
}

func newTestEngine(t *testing.T, store engine.Store, exec engine.StageExecutor, notifier engine.CompletionNotifier) *engine.Engine {
	t.Helper()
	eng := engine.New(engine.Config{
		Store:    store,
		Executor: exec,
		Notifier: notifier,
		Logger:   testutil.TestLogger(),
		// Zero delay keeps the chain fast; ordering still goes through
		// the work queue.
		StageDelay: 0,
	})
	ctx, cancel := context.WithCancel(context.Background())
	eng.Start(ctx)
	t.Cleanup(func() {
		eng.Close()
		cancel()
	})
	return eng
}

// waitForRoute polls the store until cond holds or the deadline passes.
func waitForRoute(t *testing.T, store *memStore, id uuid.UUID, cond func(model.Route) bool) model.Route {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r, err := store.GetRoute(context.Background(), id)
		require.NoError(t, err)
		if cond(r) {
			return r
		}
		time.Sleep(10 * time.Millisecond)
	}
	r, _ := store.GetRoute(context.Background(), id)
	t.Fatalf("route %s never reached expected state, status=%s current_stage=%d", id, r.Status, r.CurrentStage)
	return model.Route{}
}

func TestActivateRouteRunsAllStagesInOrder(t *testing.T) {
	store := newMemStore()
	exec := &fakeExecutor{outputs: map[string]map[string]any{
		agents.AgentTrendScanner:  {"trends": []any{"dance-challenge"}},
		agents.AgentVideoScriptor: {"script": "hook, body, cta"},
	}}
	notifier := &recordingNotifier{}
	eng := newTestEngine(t, store, exec, notifier)

	req := validRequest(
		agents.AgentTrendScanner,
		agents.AgentVideoScriptor,
		agents.AgentCreativeSynthesizer,
		agents.AgentPostScheduler,
		agents.AgentAnalyticsReporter,
	)
	result, err := eng.ActivateRoute(context.Background(), req, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "route_activated", result.Status)
	assert.Equal(t, "session-1", result.SessionID)
	assert.NotEqual(t, uuid.Nil, result.RouteID)

	route := waitForRoute(t, store, result.RouteID, func(r model.Route) bool {
		return r.Status == model.RouteStatusCompleted
	})

	assert.Equal(t, 5, route.CurrentStage)
	require.Len(t, route.Stages, 5)

	// Stages ran first to last, exactly once each.
	exec.mu.Lock()
	assert.Equal(t, []string{
		agents.AgentTrendScanner,
		agents.AgentVideoScriptor,
		agents.AgentCreativeSynthesizer,
		agents.AgentPostScheduler,
		agents.AgentAnalyticsReporter,
	}, exec.calls)
	exec.mu.Unlock()

	// Each stage carries its agent-specific completed label, timestamps, and
	// enriched output.
	wantLabels := []model.StageStatus{"scanned", "scripted", "generated", "scheduled", "analyzed"}
	for i, stage := range route.Stages {
		assert.Equal(t, i+1, stage.Order)
		assert.Equal(t, wantLabels[i], stage.Status, "stage %d", i+1)
		require.NotNil(t, stage.StartedAt, "stage %d", i+1)
		require.NotNil(t, stage.CompletedAt, "stage %d", i+1)
		assert.False(t, stage.CompletedAt.Before(*stage.StartedAt))
		assert.Contains(t, stage.Output, "narrative")
		assert.Contains(t, stage.Output, "suggestions")
		assert.Equal(t, "excited", stage.Output["emotion"])
	}

	notifier.mu.Lock()
	require.Len(t, notifier.routes, 1)
	assert.Equal(t, result.RouteID, notifier.routes[0].ID)
	notifier.mu.Unlock()
}

func TestActivateRouteReturnsAfterFirstStage(t *testing.T) {
	store := newMemStore()
	exec := &fakeExecutor{}
	eng := newTestEngine(t, store, exec, nil)

	req := validRequest(agents.AgentTrendScanner, agents.AgentVideoScriptor)
	result, err := eng.ActivateRoute(context.Background(), req, "user-1")
	require.NoError(t, err)

	// Stage 1 ran synchronously inside the activation call.
	route, err := store.GetRoute(context.Background(), result.RouteID)
	require.NoError(t, err)
	assert.Equal(t, model.StageStatus("scanned"), route.Stages[0].Status)

	// Stage 2 finishes asynchronously.
	waitForRoute(t, store, result.RouteID, func(r model.Route) bool {
		return r.Status == model.RouteStatusCompleted
	})
}

func TestStageFailureMarksRouteFailed(t *testing.T) {
	store := newMemStore()
	exec := &fakeExecutor{failAgent: agents.AgentVideoScriptor}
	eng := newTestEngine(t, store, exec, nil)

	req := validRequest(
		agents.AgentTrendScanner,
		agents.AgentVideoScriptor,
		agents.AgentCreativeSynthesizer,
	)
	result, err := eng.ActivateRoute(context.Background(), req, "user-1")
	require.NoError(t, err)

	route := waitForRoute(t, store, result.RouteID, func(r model.Route) bool {
		return r.Status == model.RouteStatusFailed
	})

	assert.Equal(t, model.StageStatus("scanned"), route.Stages[0].Status)
	assert.Equal(t, model.StageStatusFailed, route.Stages[1].Status)
	require.NotNil(t, route.Stages[1].CompletedAt)

	// The failed route never advances: later stages stay pending and no
	// further executor calls happen.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, model.StageStatusPending, route.Stages[2].Status)
	assert.Equal(t, 2, exec.callCount())
}

func TestFirstStageFailureSurfacesToCaller(t *testing.T) {
	store := newMemStore()
	exec := &fakeExecutor{failAgent: agents.AgentTrendScanner}
	eng := newTestEngine(t, store, exec, nil)

	_, err := eng.ActivateRoute(context.Background(), validRequest(agents.AgentTrendScanner), "user-1")
	require.Error(t, err)

	// The route record still exists and is marked failed.
	routes, err := store.ListRoutesBySession(context.Background(), "session-1")
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, model.RouteStatusFailed, routes[0].Status)
}

func TestActivateRouteRejectsUnknownAgent(t *testing.T) {
	store := newMemStore()
	eng := newTestEngine(t, store, &fakeExecutor{}, nil)

	_, err := eng.ActivateRoute(context.Background(), validRequest("meme-generator"), "user-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, agents.ErrUnsupportedAgent)

	// Nothing was persisted.
	routes, err := store.ListRoutesBySession(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Empty(t, routes)
}

func TestActivateRouteRejectsInvalidRequest(t *testing.T) {
	eng := newTestEngine(t, newMemStore(), &fakeExecutor{}, nil)

	req := validRequest(agents.AgentTrendScanner)
	req.SessionID = ""
	_, err := eng.ActivateRoute(context.Background(), req, "user-1")
	assert.ErrorIs(t, err, engine.ErrInvalidRequest)

	req = validRequest(agents.AgentTrendScanner)
	req.Schedule.End = req.Schedule.Start
	_, err = eng.ActivateRoute(context.Background(), req, "user-1")
	assert.ErrorIs(t, err, engine.ErrInvalidRequest)
}

func TestRouteProgressLabelWhileNextStagePending(t *testing.T) {
	store := newMemStore()
	// The worker is never started, so stage 2 stays queued and the route
	// keeps the progress label stage 1 wrote on completion.
	exec := &fakeExecutor{}
	eng := engine.New(engine.Config{
		Store:    store,
		Executor: exec,
		Logger:   testutil.TestLogger(),
	})
	// No Start: queued stages never run.
	t.Cleanup(eng.Close)

	result, err := eng.ActivateRoute(context.Background(),
		validRequest(agents.AgentTrendScanner, agents.AgentVideoScriptor), "user-1")
	require.NoError(t, err)

	route, err := store.GetRoute(context.Background(), result.RouteID)
	require.NoError(t, err)
	assert.Equal(t, model.RouteStatus("generating_script"), route.Status)
	assert.Equal(t, 2, route.CurrentStage)
}

func TestUpdateRouteMetricsUnknownRoute(t *testing.T) {
	eng := newTestEngine(t, newMemStore(), &fakeExecutor{}, nil)

	err := eng.UpdateRouteMetrics(context.Background(), uuid.New(), map[string]any{"views": 100})
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestUpdateRouteMetricsMerges(t *testing.T) {
	store := newMemStore()
	eng := newTestEngine(t, store, &fakeExecutor{}, nil)

	result, err := eng.ActivateRoute(context.Background(), validRequest(agents.AgentTrendScanner), "user-1")
	require.NoError(t, err)

	require.NoError(t, eng.UpdateRouteMetrics(context.Background(), result.RouteID, map[string]any{"views": 100}))
	require.NoError(t, eng.UpdateRouteMetrics(context.Background(), result.RouteID, map[string]any{"likes": 10, "views": 250}))

	route, err := eng.GetRouteStatus(context.Background(), result.RouteID)
	require.NoError(t, err)
	assert.Equal(t, 250, route.Metrics["views"])
	assert.Equal(t, 10, route.Metrics["likes"])
}

func TestGetRouteStatusUnknown(t *testing.T) {
	eng := newTestEngine(t, newMemStore(), &fakeExecutor{}, nil)

	_, err := eng.GetRouteStatus(context.Background(), uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDataFlowBetweenStages(t *testing.T) {
	store := newMemStore()

	var scriptorPayload map[string]any
	exec := &capturingExecutor{
		outputs: map[string]map[string]any{
			agents.AgentTrendScanner: {"trends": []any{"trend-a", "trend-b"}},
		},
		capture: map[string]*map[string]any{
			agents.AgentVideoScriptor: &scriptorPayload,
		},
	}
	eng := newTestEngine(t, store, exec, nil)

	result, err := eng.ActivateRoute(context.Background(),
		validRequest(agents.AgentTrendScanner, agents.AgentVideoScriptor), "user-1")
	require.NoError(t, err)

	waitForRoute(t, store, result.RouteID, func(r model.Route) bool {
		return r.Status == model.RouteStatusCompleted
	})

	// The scriptor payload carries the scanner's stored (enriched) output.
	require.NotNil(t, scriptorPayload)
	trends, ok := scriptorPayload["trends"].(map[string]any)
	require.True(t, ok, "trends should be the scanner output map, got %T", scriptorPayload["trends"])
	assert.Equal(t, []any{"trend-a", "trend-b"}, trends["trends"])
}

// capturingExecutor records the payload sent to selected agents.
type capturingExecutor struct {
	mu      sync.Mutex
	outputs map[string]map[string]any
	capture map[string]*map[string]any
}

func (f *capturingExecutor) Execute(_ context.Context, st agents.StageType, payload map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if dst, ok := f.capture[st.Agent]; ok {
		*dst = payload
	}
	if out, ok := f.outputs[st.Agent]; ok {
		return out, nil
	}
	return map[string]any{}, nil
}

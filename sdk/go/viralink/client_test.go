package viralink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

// mockServer creates an httptest server that mimics the Viralink API.
func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	// Always register auth endpoint.
	if _, ok := handlers["POST /auth/token"]; !ok {
		mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "test-token-xyz",
					"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
				},
			})
		})
	}

	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}

	return httptest.NewServer(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL: serverURL,
		KeyID:   "test-key-id",
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClientValidation(t *testing.T) {
	cases := []Config{
		{KeyID: "k", APIKey: "s"},
		{BaseURL: "http://x", APIKey: "s"},
		{BaseURL: "http://x", KeyID: "k"},
	}
	for _, cfg := range cases {
		if _, err := NewClient(cfg); err == nil {
			t.Errorf("expected error for config %+v", cfg)
		}
	}
}

func TestActivateRoute(t *testing.T) {
	routeID := uuid.New()

	var receivedBody ActivateRequest
	var receivedAuth string
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/routes": func(w http.ResponseWriter, r *http.Request) {
			receivedAuth = r.Header.Get("Authorization")
			if err := json.NewDecoder(r.Body).Decode(&receivedBody); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"error": map[string]any{"code": "INVALID_INPUT", "message": err.Error()},
				})
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{
				"data": ActivationResult{
					Status:    "route_activated",
					RouteID:   routeID,
					SessionID: receivedBody.SessionID,
					Message:   "route activated",
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	result, err := client.ActivateRoute(context.Background(), ActivateRequest{
		RouteType: "viralization",
		SessionID: "sess-1",
		Emotion:   "excited",
		Platforms: []string{"tiktok"},
		Agents:    []string{"trend-scanner", "video-scriptor"},
		Schedule: ScheduleWindow{
			Start: time.Now(),
			End:   time.Now().Add(24 * time.Hour),
		},
	})
	if err != nil {
		t.Fatalf("ActivateRoute failed: %v", err)
	}
	if receivedAuth != "Bearer test-token-xyz" {
		t.Errorf("expected bearer token, got %q", receivedAuth)
	}
	if receivedBody.RouteType != "viralization" {
		t.Errorf("expected route_type 'viralization', got %q", receivedBody.RouteType)
	}
	if len(receivedBody.Agents) != 2 || receivedBody.Agents[0] != "trend-scanner" {
		t.Errorf("unexpected agents: %v", receivedBody.Agents)
	}
	if result.RouteID != routeID {
		t.Errorf("expected route ID %s, got %s", routeID, result.RouteID)
	}
	if result.Status != "route_activated" {
		t.Errorf("expected status 'route_activated', got %q", result.Status)
	}
}

func TestGetRouteNotFound(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/routes/{route_id}": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error": map[string]any{"code": "NOT_FOUND", "message": "route not found"},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.GetRoute(context.Background(), uuid.New())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsNotFound(err) {
		t.Errorf("expected IsNotFound, got %v", err)
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if apiErr.Code != "NOT_FOUND" {
		t.Errorf("expected code NOT_FOUND, got %q", apiErr.Code)
	}
}

func TestWaitForCompletion(t *testing.T) {
	routeID := uuid.New()
	var calls atomic.Int32

	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/routes/{route_id}": func(w http.ResponseWriter, r *http.Request) {
			status := "scanning_trends"
			if calls.Add(1) >= 3 {
				status = RouteStatusCompleted
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": Route{ID: routeID, Status: status},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	route, err := client.WaitForCompletion(context.Background(), routeID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForCompletion failed: %v", err)
	}
	if route.Status != RouteStatusCompleted {
		t.Errorf("expected completed, got %q", route.Status)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 polls, got %d", got)
	}
}

func TestWaitForCompletionContextCancelled(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/routes/{route_id}": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": Route{ID: uuid.New(), Status: "scanning_trends"},
			})
		},
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	client := newTestClient(t, srv.URL)
	route, err := client.WaitForCompletion(ctx, uuid.New(), 10*time.Millisecond)
	if err == nil {
		t.Fatal("expected context error")
	}
	if route == nil {
		t.Error("expected last observed route state alongside the error")
	}
}

func TestListSessionRoutes(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/sessions/{session_id}/routes": func(w http.ResponseWriter, r *http.Request) {
			if r.PathValue("session_id") != "sess-9" {
				writeJSON(w, http.StatusNotFound, map[string]any{
					"error": map[string]any{"code": "NOT_FOUND", "message": "unknown session"},
				})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": SessionRoutes{
					SessionID: "sess-9",
					Routes:    []Route{{ID: uuid.New()}, {ID: uuid.New()}},
					Count:     2,
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.ListSessionRoutes(context.Background(), "sess-9")
	if err != nil {
		t.Fatalf("ListSessionRoutes failed: %v", err)
	}
	if resp.Count != 2 || len(resp.Routes) != 2 {
		t.Errorf("expected 2 routes, got count=%d len=%d", resp.Count, len(resp.Routes))
	}
}

func TestUpdateMetrics(t *testing.T) {
	routeID := uuid.New()

	var receivedBody map[string]map[string]any
	srv := mockServer(t, map[string]http.HandlerFunc{
		"PATCH /v1/routes/{route_id}/metrics": func(w http.ResponseWriter, r *http.Request) {
			if err := json.NewDecoder(r.Body).Decode(&receivedBody); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"error": map[string]any{"code": "INVALID_INPUT", "message": err.Error()},
				})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": MetricsResult{RouteID: routeID, Updated: true},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	result, err := client.UpdateMetrics(context.Background(), routeID, map[string]any{"views": 1200})
	if err != nil {
		t.Fatalf("UpdateMetrics failed: %v", err)
	}
	if !result.Updated {
		t.Error("expected Updated to be true")
	}
	if receivedBody["metrics"]["views"] != float64(1200) {
		t.Errorf("expected views 1200 in request body, got %v", receivedBody["metrics"]["views"])
	}
}

func TestTokenRefreshOnExpiry(t *testing.T) {
	var authCalls atomic.Int32

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			authCalls.Add(1)
			// Already inside the refresh margin, so every request re-authenticates.
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "short-lived",
					"expires_at": time.Now().Add(5 * time.Second).Format(time.RFC3339Nano),
				},
			})
		},
		"GET /v1/routes/{route_id}": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": Route{ID: uuid.New(), Status: RouteStatusCompleted},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	for i := 0; i < 3; i++ {
		if _, err := client.GetRoute(context.Background(), uuid.New()); err != nil {
			t.Fatalf("GetRoute failed: %v", err)
		}
	}
	if got := authCalls.Load(); got != 3 {
		t.Errorf("expected 3 auth calls for a token inside the refresh margin, got %d", got)
	}
}

func TestTokenReusedWhileValid(t *testing.T) {
	var authCalls atomic.Int32

	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			authCalls.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "long-lived",
					"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
				},
			})
		},
		"GET /v1/routes/{route_id}": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": Route{ID: uuid.New(), Status: RouteStatusCompleted},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	for i := 0; i < 3; i++ {
		if _, err := client.GetRoute(context.Background(), uuid.New()); err != nil {
			t.Fatalf("GetRoute failed: %v", err)
		}
	}
	if got := authCalls.Load(); got != 1 {
		t.Errorf("expected 1 auth call for a valid token, got %d", got)
	}
}

func TestHealthSkipsAuth(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]any{"code": "UNAUTHORIZED", "message": "invalid credentials"},
			})
		},
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": HealthResponse{Status: "healthy"},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected 'healthy', got %q", resp.Status)
	}
}

func TestNonEnvelopeErrorBody(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/routes/{route_id}": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream gone"))
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.GetRoute(context.Background(), uuid.New())
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", apiErr.StatusCode)
	}
	if apiErr.Message != "upstream gone" {
		t.Errorf("expected raw body as message, got %q", apiErr.Message)
	}
}

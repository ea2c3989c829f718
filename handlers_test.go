package main

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kwv/radioloc/locate"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// testService builds a service over four local 2D stations.
func testService(t *testing.T) *locate.Service {
	t.Helper()
	service, err := locate.NewService(handlerConfig())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return service
}

func handlerConfig() *locate.Config {
	return &locate.Config{
		Stations: []locate.StationConfig{
			{ID: "st1", Topic: "stations/st1", Position: []float64{0, 0}},
			{ID: "st2", Topic: "stations/st2", Position: []float64{10, 0}},
			{ID: "st3", Topic: "stations/st3", Position: []float64{0, 10}},
			{ID: "st4", Topic: "stations/st4", Position: []float64{10, 10}},
		},
		Model:  locate.DefaultPathLossModel(),
		Solver: locate.SolverSettings{Threshold: 0.1},
	}
}

// feedTarget pushes exact range readings for a target at the given position.
func feedTarget(service *locate.Service, targetID string, x, y float64) {
	target := locate.Point{x, y}
	now := time.Now().Unix()
	for id, pos := range service.Stations() {
		rng := target.DistanceTo(pos)
		service.Tracker().UpdateReading(locate.Reading{
			StationID: id,
			TargetID:  targetID,
			Range:     &rng,
			Timestamp: now,
		})
	}
}

// solveBody builds a well-posed solve request around position (3,4).
func solveBody(extra string) string {
	samples := `"samples":[
		{"position":[0,0],"distance":5},
		{"position":[10,0],"distance":8.06225774829855},
		{"position":[0,10],"distance":6.708203932499369},
		{"position":[10,10],"distance":9.219544457292887}
	]`
	if extra != "" {
		return "{" + extra + "," + samples + "}"
	}
	return "{" + samples + "}"
}

// ---------------------------------------------------------------------------
// /health
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	service := testService(t)
	server := newHTTPServer(service, handlerConfig())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var status struct {
		Status       string `json:"status"`
		Stations     int    `json:"stations"`
		HasEstimates bool   `json:"hasEstimates"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("invalid health JSON: %v", err)
	}
	if status.Status != "ok" {
		t.Errorf("expected status ok, got %s", status.Status)
	}
	if status.Stations != 4 {
		t.Errorf("expected 4 stations, got %d", status.Stations)
	}
	if status.HasEstimates {
		t.Error("expected no estimates on a fresh service")
	}
}

// ---------------------------------------------------------------------------
// /api/positions
// ---------------------------------------------------------------------------

func TestPositionsEndpoint(t *testing.T) {
	service := testService(t)
	server := newHTTPServer(service, handlerConfig())

	t.Run("empty", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if got := strings.TrimSpace(w.Body.String()); got != "[]" {
			t.Errorf("expected empty array, got %s", got)
		}
	})

	feedTarget(service, "tag1", 3, 4)
	if _, err := service.SolveTarget("tag1"); err != nil {
		t.Fatalf("SolveTarget failed: %v", err)
	}

	t.Run("with estimate", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		var estimates []locate.TargetEstimate
		if err := json.Unmarshal(w.Body.Bytes(), &estimates); err != nil {
			t.Fatalf("invalid positions JSON: %v", err)
		}
		if len(estimates) != 1 {
			t.Fatalf("expected 1 estimate, got %d", len(estimates))
		}
		if estimates[0].TargetID != "tag1" {
			t.Errorf("expected tag1, got %s", estimates[0].TargetID)
		}
		if math.Abs(estimates[0].Position[0]-3) > 0.01 {
			t.Errorf("expected x~3, got %v", estimates[0].Position)
		}
	})

	t.Run("single target", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/positions/tag1", nil)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var est locate.TargetEstimate
		if err := json.Unmarshal(w.Body.Bytes(), &est); err != nil {
			t.Fatalf("invalid estimate JSON: %v", err)
		}
		if est.TargetID != "tag1" {
			t.Errorf("expected tag1, got %s", est.TargetID)
		}
	})

	t.Run("unknown target", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/positions/nope", nil)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})
}

// ---------------------------------------------------------------------------
// /api/solve
// ---------------------------------------------------------------------------

func TestSolveEndpoint(t *testing.T) {
	service := testService(t)
	server := newHTTPServer(service, handlerConfig())

	t.Run("happy path", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/solve", strings.NewReader(solveBody(`"threshold":0.1`)))
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var resp solveResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("invalid solve JSON: %v", err)
		}
		if math.Abs(resp.Position[0]-3) > 0.01 || math.Abs(resp.Position[1]-4) > 0.01 {
			t.Errorf("expected position ~(3,4), got %v", resp.Position)
		}
		if resp.Inliers != 4 {
			t.Errorf("expected 4 inliers, got %d", resp.Inliers)
		}
		if !resp.Refined {
			t.Error("expected refined result")
		}
		if len(resp.Covariance) != 2 || len(resp.Covariance[0]) != 2 {
			t.Errorf("expected 2x2 covariance, got %v", resp.Covariance)
		}
	})

	t.Run("method override", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/solve", strings.NewReader(solveBody(`"method":"msac","threshold":0.1`)))
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("GET rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/solve", nil)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", w.Code)
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/solve", strings.NewReader("{not json"))
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("unknown method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/solve", strings.NewReader(solveBody(`"method":"huber"`)))
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("too few samples", func(t *testing.T) {
		body := `{"samples":[{"position":[0,0],"distance":5}]}`
		req := httptest.NewRequest(http.MethodPost, "/api/solve", strings.NewReader(body))
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("unsolvable geometry", func(t *testing.T) {
		body := `{"samples":[
			{"position":[0,0],"distance":1},
			{"position":[1,0],"distance":1},
			{"position":[2,0],"distance":1},
			{"position":[3,0],"distance":1}
		]}`
		req := httptest.NewRequest(http.MethodPost, "/api/solve", strings.NewReader(body))
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		if w.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected 422, got %d: %s", w.Code, w.Body.String())
		}
	})
}

func TestHandleSolve_NoRefine(t *testing.T) {
	refine := false
	req := &solveRequest{
		Threshold: 0.1,
		Refine:    &refine,
		Samples: []solveSample{
			{Position: []float64{0, 0}, Distance: 5},
			{Position: []float64{10, 0}, Distance: 8.06225774829855},
			{Position: []float64{0, 10}, Distance: 6.708203932499369},
		},
	}
	resp, status, err := handleSolve(req, &locate.Config{})
	if err != nil {
		t.Fatalf("handleSolve failed (status %d): %v", status, err)
	}
	if resp.Refined {
		t.Error("expected unrefined result")
	}
	if resp.Covariance != nil {
		t.Error("expected no covariance without refinement")
	}
}

// ---------------------------------------------------------------------------
// scene endpoints
// ---------------------------------------------------------------------------

func TestSceneEndpoints(t *testing.T) {
	service := testService(t)
	server := newHTTPServer(service, handlerConfig())

	t.Run("no targets", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/scene.svg", nil)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", w.Code)
		}
	})

	feedTarget(service, "tag1", 3, 4)
	if _, err := service.SolveTarget("tag1"); err != nil {
		t.Fatalf("SolveTarget failed: %v", err)
	}

	t.Run("svg", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/scene.svg?target=tag1", nil)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "image/svg+xml" {
			t.Errorf("expected SVG content type, got %s", ct)
		}
		if !bytes.Contains(w.Body.Bytes(), []byte("<svg")) {
			t.Error("response does not look like SVG")
		}
	})

	t.Run("png", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/scene.png", nil)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "image/png" {
			t.Errorf("expected PNG content type, got %s", ct)
		}
		// PNG magic bytes
		if !bytes.HasPrefix(w.Body.Bytes(), []byte{0x89, 0x50, 0x4e, 0x47}) {
			t.Error("response does not look like PNG")
		}
	})

	t.Run("unsolved target", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/scene.svg?target=ghost", nil)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", w.Code)
		}
	})
}

package main

import (
	"encoding/json"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/kwv/radioloc/locate"
)

// solveRequest is the wire shape of a one-shot POST /api/solve. Quality uses
// a pointer so an omitted field stays distinguishable from a worst-quality
// zero.
type solveRequest struct {
	Method        string        `json:"method,omitempty"`
	Threshold     float64       `json:"threshold,omitempty"`
	Confidence    float64       `json:"confidence,omitempty"`
	MaxIterations int           `json:"maxIterations,omitempty"`
	StopThreshold float64       `json:"stopThreshold,omitempty"`
	Refine        *bool         `json:"refine,omitempty"`
	Samples       []solveSample `json:"samples"`
}

type solveSample struct {
	StationID string    `json:"stationId,omitempty"`
	Position  []float64 `json:"position"`
	Distance  float64   `json:"distance"`
	StdDev    float64   `json:"stdDev,omitempty"`
	Quality   *float64  `json:"quality,omitempty"`
}

// solveResponse mirrors locate.EstimationResult with a JSON-friendly
// covariance.
type solveResponse struct {
	Position   []float64   `json:"position"`
	Covariance [][]float64 `json:"covariance,omitempty"`
	InlierMask []bool      `json:"inlierMask,omitempty"`
	Inliers    int         `json:"inliers"`
	Refined    bool        `json:"refined"`
	Iterations int         `json:"iterations"`
}

// newHTTPServer creates an HTTP server with all endpoints.
func newHTTPServer(service *locate.Service, config *locate.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		w.Header().Set("Content-Type", "application/json")
		status := struct {
			Status       string    `json:"status"`
			Timestamp    time.Time `json:"timestamp"`
			Stations     int       `json:"stations"`
			HasEstimates bool      `json:"hasEstimates"`
		}{
			Status:       "ok",
			Timestamp:    time.Now(),
			Stations:     len(config.Stations),
			HasEstimates: service.Tracker().HasEstimates(),
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding health status: %v", err)
		}
	})

	// Latest estimates for every target
	mux.HandleFunc("/api/positions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(service.Tracker().GetEstimates()); err != nil {
			log.Printf("Error encoding positions: %v", err)
		}
	})

	// Latest estimate for a single target
	mux.HandleFunc("/api/positions/", func(w http.ResponseWriter, r *http.Request) {
		targetID := r.URL.Path[len("/api/positions/"):]
		est := service.Tracker().GetEstimate(targetID)
		if est == nil {
			http.Error(w, "No estimate for target", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(est); err != nil {
			log.Printf("Error encoding position for %s: %v", targetID, err)
		}
	})

	// One-shot solve from caller-supplied samples
	mux.HandleFunc("/api/solve", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req solveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		resp, status, err := handleSolve(&req, config)
		if err != nil {
			http.Error(w, err.Error(), status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Printf("Error encoding solve response: %v", err)
		}
	})

	// Scene rendering for a target's last solve
	mux.HandleFunc("/scene.svg", sceneHandler(service, "svg"))
	mux.HandleFunc("/scene.png", sceneHandler(service, "png"))

	return mux
}

// handleSolve runs a one-shot robust solve for the API. Returns the HTTP
// status to use on error.
func handleSolve(req *solveRequest, config *locate.Config) (*solveResponse, int, error) {
	dims := config.Dimensions()
	cfg := locate.DefaultSolverConfig(dims)
	if method, err := locate.ParseMethod(req.Method); err == nil {
		cfg.Method = method
	} else {
		return nil, http.StatusBadRequest, err
	}
	if req.Threshold > 0 {
		cfg.Threshold = req.Threshold
	}
	if req.Confidence > 0 {
		cfg.Confidence = req.Confidence
	}
	if req.MaxIterations > 0 {
		cfg.MaxIterations = req.MaxIterations
	}
	if req.StopThreshold > 0 {
		cfg.StopThreshold = req.StopThreshold
	}
	if req.Refine != nil {
		cfg.Refine = *req.Refine
	}

	solver, err := locate.NewSolver(cfg)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}

	samples := make([]locate.DistanceSample, len(req.Samples))
	for i, s := range req.Samples {
		quality := locate.NoQuality
		if s.Quality != nil {
			quality = *s.Quality
		}
		samples[i] = locate.DistanceSample{
			StationID: s.StationID,
			Position:  locate.Point(s.Position),
			Distance:  s.Distance,
			StdDev:    s.StdDev,
			Quality:   quality,
		}
	}
	if err := solver.Configure(samples); err != nil {
		return nil, http.StatusBadRequest, err
	}

	result, err := solver.Solve()
	if err != nil {
		return nil, http.StatusUnprocessableEntity, err
	}

	resp := &solveResponse{
		Position:   result.Position,
		Refined:    result.Refined,
		Iterations: result.Iterations,
	}
	if result.Inliers != nil {
		resp.InlierMask = result.Inliers.InlierMask
		resp.Inliers = result.Inliers.NumInliers()
	}
	if result.Covariance != nil {
		resp.Covariance = make([][]float64, dims)
		for a := 0; a < dims; a++ {
			resp.Covariance[a] = make([]float64, dims)
			for b := 0; b < dims; b++ {
				v := result.Covariance.At(a, b)
				if math.IsNaN(v) {
					v = 0
				}
				resp.Covariance[a][b] = v
			}
		}
	}
	return resp, 0, nil
}

// sceneHandler renders the last solve of a target as SVG or PNG.
func sceneHandler(service *locate.Service, format string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targetID := r.URL.Query().Get("target")
		if targetID == "" {
			targets := service.Tracker().Targets()
			if len(targets) == 0 {
				http.Error(w, "No targets tracked", http.StatusServiceUnavailable)
				return
			}
			targetID = targets[0]
		}

		record := service.LastSolve(targetID)
		if record == nil {
			http.Error(w, "No solve available for target", http.StatusServiceUnavailable)
			return
		}

		renderer := locate.NewSceneRenderer(service.Stations(), record.Samples, record.Result)
		w.Header().Set("Cache-Control", "no-cache")
		switch format {
		case "png":
			w.Header().Set("Content-Type", "image/png")
			if err := renderer.RenderToPNG(w); err != nil {
				log.Printf("Error rendering scene PNG for %s: %v", targetID, err)
			}
		default:
			w.Header().Set("Content-Type", "image/svg+xml")
			if err := renderer.RenderToSVG(w); err != nil {
				log.Printf("Error rendering scene SVG for %s: %v", targetID, err)
			}
		}
	}
}

package locate

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"
)

// Service wires telemetry ingestion to the robust solver: it keeps the
// freshest reading per station for each target and re-solves a target's
// position whenever enough fresh readings are available.
type Service struct {
	config    *Config
	stations  map[string]Point
	proj      *GeoProjection
	tracker   *StateTracker
	publisher *Publisher

	mu     sync.Mutex // serializes solves; the Solver itself rejects reentry
	solver *Solver
	solves map[string]*SolveRecord
}

// SolveRecord keeps the inputs and output of a target's most recent solve,
// mainly for the scene-rendering endpoints.
type SolveRecord struct {
	Samples []DistanceSample
	Result  *EstimationResult
}

// NewService builds a service from a loaded configuration.
func NewService(config *Config) (*Service, error) {
	stations, proj, err := config.StationPositions()
	if err != nil {
		return nil, err
	}
	solverCfg, err := config.SolverConfig()
	if err != nil {
		return nil, err
	}
	solver, err := NewSolver(solverCfg)
	if err != nil {
		return nil, err
	}
	return &Service{
		config:   config,
		stations: stations,
		proj:     proj,
		tracker:  NewStateTracker(),
		solver:   solver,
		solves:   make(map[string]*SolveRecord),
	}, nil
}

// Tracker exposes the state tracker for the HTTP layer.
func (s *Service) Tracker() *StateTracker { return s.tracker }

// Stations returns the resolved station positions in the local frame.
func (s *Service) Stations() map[string]Point { return s.stations }

// Projection returns the geographic projection, or nil for local configs.
func (s *Service) Projection() *GeoProjection { return s.proj }

// SetPublisher attaches an MQTT publisher for solved estimates. Nil
// disables publishing.
func (s *Service) SetPublisher(p *Publisher) { s.publisher = p }

// Method reports the configured robust method.
func (s *Service) Method() Method { return s.solver.Method() }

// LastSolve returns the record of a target's most recent solve, or nil.
func (s *Service) LastSolve(targetID string) *SolveRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.solves[targetID]
}

// HandleReading is the ReadingHandler registered with the MQTT client. It
// stores the reading and attempts a solve for the reading's target.
func (s *Service) HandleReading(stationID string, r Reading, err error) {
	if err != nil {
		return // decode failure already logged by the client
	}
	if r.TargetID == "" {
		log.Printf("Ignoring reading from %s without target ID", stationID)
		return
	}
	s.tracker.UpdateReading(r)

	if est, solveErr := s.SolveTarget(r.TargetID); solveErr == nil {
		log.Printf("Solved %s: position=%v inliers=%d/%d", est.TargetID, est.Position, est.Inliers, est.Samples)
	} else if !errors.Is(solveErr, ErrNotReady) {
		log.Printf("Solve for %s failed: %v", r.TargetID, solveErr)
	}
}

// maxReadingAge returns the configured staleness bound for batch solves.
func (s *Service) maxReadingAge() time.Duration {
	if s.config.MaxReadingAge <= 0 {
		return 0
	}
	return time.Duration(s.config.MaxReadingAge) * time.Second
}

// SamplesFor converts the fresh readings of a target into distance samples
// against the known station positions. Readings from unknown stations are
// dropped.
func (s *Service) SamplesFor(targetID string) []DistanceSample {
	readings := s.tracker.FreshReadings(targetID, s.maxReadingAge())
	samples := make([]DistanceSample, 0, len(readings))
	for _, r := range readings {
		pos, ok := s.stations[r.StationID]
		if !ok {
			log.Printf("Dropping reading from unknown station %s", r.StationID)
			continue
		}
		if sample, ok := SampleFromReading(r, pos, s.config.Model); ok {
			samples = append(samples, sample)
		}
	}
	return samples
}

// SolveTarget runs a robust solve for one target from its freshest readings.
// Returns ErrNotReady when fewer than dimensions+1 stations have usable
// readings.
func (s *Service) SolveTarget(targetID string) (*TargetEstimate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	samples := s.SamplesFor(targetID)
	if len(samples) < s.config.Dimensions()+1 {
		return nil, ErrNotReady
	}
	if err := s.solver.Configure(samples); err != nil {
		return nil, fmt.Errorf("configuring solver for %s: %w", targetID, err)
	}

	result, err := s.solver.Solve()
	if err != nil {
		return nil, err
	}

	est := s.estimateFromResult(targetID, result, len(samples))
	s.tracker.UpdateEstimate(est)
	s.solves[targetID] = &SolveRecord{Samples: samples, Result: result}

	if s.publisher != nil {
		if err := s.publisher.PublishEstimate(est); err != nil {
			log.Printf("Publishing estimate for %s: %v", targetID, err)
		}
	}
	return est, nil
}

// estimateFromResult shapes a solver result for the API and MQTT surfaces,
// lifting the position back to lat/lon when stations were configured
// geographically.
func (s *Service) estimateFromResult(targetID string, result *EstimationResult, samples int) *TargetEstimate {
	est := &TargetEstimate{
		TargetID:  targetID,
		Position:  result.Position,
		Samples:   samples,
		Method:    s.solver.Method().String(),
		Refined:   result.Refined,
		Timestamp: time.Now(),
	}
	if result.Inliers != nil {
		est.Inliers = result.Inliers.NumInliers()
	}
	if result.Covariance != nil {
		dims := result.Position.Dims()
		est.StdDev = make([]float64, dims)
		for i := 0; i < dims; i++ {
			est.StdDev[i] = math.Sqrt(result.Covariance.At(i, i))
		}
	}
	if s.proj != nil {
		geo := s.proj.ToGeo(result.Position)
		lon, lat := geo[0], geo[1]
		est.Lon, est.Lat = &lon, &lat
	}
	return est
}

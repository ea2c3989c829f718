package locate

import (
	"sort"
	"sync"
	"time"
)

// TargetEstimate is the latest solved position for one mobile target,
// exposed over the HTTP API and published to MQTT.
type TargetEstimate struct {
	TargetID  string    `json:"targetId"`
	Position  Point     `json:"position"`
	Lon       *float64  `json:"lon,omitempty"`
	Lat       *float64  `json:"lat,omitempty"`
	StdDev    []float64 `json:"stdDev,omitempty"` // per-axis, from the covariance diagonal
	Inliers   int       `json:"inliers"`
	Samples   int       `json:"samples"`
	Method    string    `json:"method"`
	Refined   bool      `json:"refined"`
	Timestamp time.Time `json:"timestamp"`
}

// StateTracker keeps the freshest reading per (target, station) pair and the
// latest estimate per target. It is safe for concurrent use; MQTT message
// handlers and HTTP handlers share it.
type StateTracker struct {
	mu        sync.RWMutex
	readings  map[string]map[string]Reading // target -> station -> latest
	estimates map[string]*TargetEstimate
}

// NewStateTracker creates an empty tracker.
func NewStateTracker() *StateTracker {
	return &StateTracker{
		readings:  make(map[string]map[string]Reading),
		estimates: make(map[string]*TargetEstimate),
	}
}

// UpdateReading stores a reading, replacing any earlier reading from the
// same station for the same target.
func (st *StateTracker) UpdateReading(r Reading) {
	if r.TargetID == "" || r.StationID == "" {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	byStation, ok := st.readings[r.TargetID]
	if !ok {
		byStation = make(map[string]Reading)
		st.readings[r.TargetID] = byStation
	}
	byStation[r.StationID] = r
}

// FreshReadings returns the latest reading per station for a target,
// dropping readings older than maxAge (0 disables the age filter). The
// result is sorted by station ID for deterministic batch composition.
func (st *StateTracker) FreshReadings(targetID string, maxAge time.Duration) []Reading {
	st.mu.RLock()
	defer st.mu.RUnlock()

	byStation := st.readings[targetID]
	if len(byStation) == 0 {
		return nil
	}
	cutoff := int64(0)
	if maxAge > 0 {
		cutoff = time.Now().Add(-maxAge).Unix()
	}
	out := make([]Reading, 0, len(byStation))
	for _, r := range byStation {
		if cutoff > 0 && r.Timestamp > 0 && r.Timestamp < cutoff {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StationID < out[j].StationID })
	return out
}

// Targets returns the IDs of all targets with at least one reading.
func (st *StateTracker) Targets() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	ids := make([]string, 0, len(st.readings))
	for id := range st.readings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UpdateEstimate stores the latest solved position for a target.
func (st *StateTracker) UpdateEstimate(est *TargetEstimate) {
	if est == nil || est.TargetID == "" {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.estimates[est.TargetID] = est
}

// GetEstimate returns the latest estimate for a target, or nil.
func (st *StateTracker) GetEstimate(targetID string) *TargetEstimate {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.estimates[targetID]
}

// GetEstimates returns all current estimates sorted by target ID.
func (st *StateTracker) GetEstimates() []*TargetEstimate {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*TargetEstimate, 0, len(st.estimates))
	for _, est := range st.estimates {
		out = append(out, est)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out
}

// HasEstimates reports whether any target has been solved yet.
func (st *StateTracker) HasEstimates() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.estimates) > 0
}

package locate

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
)

// StationConfig defines a fixed reference station from the config file.
// Position is given either directly in local meters (2 or 3 components) or
// geographically via lat/lon (+ optional alt), resolved through a
// GeoProjection at load time.
type StationConfig struct {
	ID       string    `yaml:"id" json:"id"`
	Topic    string    `yaml:"topic" json:"topic"`
	Position []float64 `yaml:"position,omitempty" json:"position,omitempty"`
	Lat      *float64  `yaml:"lat,omitempty" json:"lat,omitempty"`
	Lon      *float64  `yaml:"lon,omitempty" json:"lon,omitempty"`
	Alt      *float64  `yaml:"alt,omitempty" json:"alt,omitempty"`
}

// hasGeo reports whether the station is positioned geographically.
func (s *StationConfig) hasGeo() bool { return s.Lat != nil && s.Lon != nil }

// SolverSettings is the YAML-facing shape of SolverConfig.
type SolverSettings struct {
	Method        string  `yaml:"method,omitempty" json:"method,omitempty"`
	Dimensions    int     `yaml:"dimensions,omitempty" json:"dimensions,omitempty"`
	Threshold     float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Confidence    float64 `yaml:"confidence,omitempty" json:"confidence,omitempty"`
	MaxIterations int     `yaml:"maxIterations,omitempty" json:"maxIterations,omitempty"`
	StopThreshold float64 `yaml:"stopThreshold,omitempty" json:"stopThreshold,omitempty"`
	Refine        *bool   `yaml:"refine,omitempty" json:"refine,omitempty"`
	Covariance    *bool   `yaml:"covariance,omitempty" json:"covariance,omitempty"`
}

// MQTTConfig holds MQTT connection settings.
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// Config represents the full configuration file.
type Config struct {
	MQTT     MQTTConfig      `yaml:"mqtt" json:"mqtt"`
	Stations []StationConfig `yaml:"stations" json:"stations"`
	Model    PathLossModel   `yaml:"model" json:"model"`
	Solver   SolverSettings  `yaml:"solver" json:"solver"`

	// MaxReadingAge bounds how stale a station's latest reading may be and
	// still enter a batch solve, in seconds. Zero means no limit.
	MaxReadingAge int64 `yaml:"maxReadingAge,omitempty" json:"maxReadingAge,omitempty"`
}

// GetStationByID returns the station config for the given ID, or nil.
func (c *Config) GetStationByID(id string) *StationConfig {
	for i := range c.Stations {
		if c.Stations[i].ID == id {
			return &c.Stations[i]
		}
	}
	return nil
}

// Dimensions returns the configured solve dimension, defaulting to 2.
func (c *Config) Dimensions() int {
	if c.Solver.Dimensions == 3 {
		return 3
	}
	return 2
}

// ParseMethod resolves a method name from config. Matching is
// case-insensitive.
func ParseMethod(name string) (Method, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "RANSAC":
		return RANSAC, nil
	case "LMEDS":
		return LMedS, nil
	case "MSAC":
		return MSAC, nil
	case "PROSAC":
		return PROSAC, nil
	case "PROMEDS":
		return PROMedS, nil
	}
	return RANSAC, fmt.Errorf("unknown solver method %q", name)
}

// SolverConfig materializes the YAML settings into a validated SolverConfig,
// starting from the defaults for the configured dimension.
func (c *Config) SolverConfig() (SolverConfig, error) {
	cfg := DefaultSolverConfig(c.Dimensions())
	method, err := ParseMethod(c.Solver.Method)
	if err != nil {
		return cfg, err
	}
	cfg.Method = method
	if c.Solver.Threshold > 0 {
		cfg.Threshold = c.Solver.Threshold
	}
	if c.Solver.Confidence > 0 {
		cfg.Confidence = c.Solver.Confidence
	}
	if c.Solver.MaxIterations > 0 {
		cfg.MaxIterations = c.Solver.MaxIterations
	}
	if c.Solver.StopThreshold > 0 {
		cfg.StopThreshold = c.Solver.StopThreshold
	}
	if c.Solver.Refine != nil {
		cfg.Refine = *c.Solver.Refine
	}
	if c.Solver.Covariance != nil {
		cfg.Covariance = *c.Solver.Covariance
	}
	return cfg, nil
}

// StationPositions resolves every station to local metric coordinates. When
// any station is positioned geographically, a projection centered on the
// first such station converts lat/lon to local meters; it is returned so
// estimates can be lifted back. The projection is nil for purely local
// configs.
func (c *Config) StationPositions() (map[string]Point, *GeoProjection, error) {
	dims := c.Dimensions()
	var proj *GeoProjection
	for i := range c.Stations {
		if c.Stations[i].hasGeo() {
			proj = NewGeoProjection(orb.Point{*c.Stations[i].Lon, *c.Stations[i].Lat})
			break
		}
	}

	positions := make(map[string]Point, len(c.Stations))
	for i := range c.Stations {
		st := &c.Stations[i]
		switch {
		case st.hasGeo():
			local := proj.ToLocal(orb.Point{*st.Lon, *st.Lat})
			if dims == 3 {
				alt := 0.0
				if st.Alt != nil {
					alt = *st.Alt
				}
				local = append(local, alt)
			}
			positions[st.ID] = local
		case len(st.Position) == dims:
			positions[st.ID] = Point(st.Position).Clone()
		default:
			return nil, nil, fmt.Errorf("station %s: need lat/lon or a %d-component position", st.ID, dims)
		}
	}
	return positions, proj, nil
}

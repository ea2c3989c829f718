package locate

import (
	"math"
)

// NoQuality marks a sample without a quality score. The zero value of the
// Quality field is a valid (worst) score, so absence is encoded as NaN.
var NoQuality = math.NaN()

// PathLossModel converts received signal strength into an estimated distance
// using the log-distance propagation model
//
//	RSSI(d) = P0 - 10 n log10(d / d0)
//
// where P0 is the received power at the reference distance d0 and n is the
// environment-dependent path-loss exponent (2 in free space, up to ~4
// indoors).
type PathLossModel struct {
	ReferenceDistance float64 `yaml:"referenceDistance" json:"referenceDistance"` // d0 [m]
	ReferencePower    float64 `yaml:"referencePower" json:"referencePower"`       // P0 [dBm]
	Exponent          float64 `yaml:"exponent" json:"exponent"`                   // n
	RSSIStdDev        float64 `yaml:"rssiStdDev" json:"rssiStdDev"`               // per-reading noise [dB]
}

// DefaultPathLossModel returns free-space-ish defaults for a 1 m reference.
func DefaultPathLossModel() PathLossModel {
	return PathLossModel{
		ReferenceDistance: 1.0,
		ReferencePower:    -40,
		Exponent:          2.0,
		RSSIStdDev:        4.0,
	}
}

// Distance inverts the model for a received power in dBm.
func (m PathLossModel) Distance(rssi float64) float64 {
	return m.ReferenceDistance * math.Pow(10, (m.ReferencePower-rssi)/(10*m.Exponent))
}

// DistanceStdDev propagates the RSSI noise through the model at the given
// received power: sigma_d = d ln(10) / (10 n) * sigma_rssi.
func (m PathLossModel) DistanceStdDev(rssi float64) float64 {
	if m.RSSIStdDev <= 0 {
		return 0
	}
	return m.Distance(rssi) * math.Ln10 / (10 * m.Exponent) * m.RSSIStdDev
}

// Reading is one raw observation of the target from a station, before model
// conversion. Either RSSI or Range (or both) must be set; nil means absent.
type Reading struct {
	StationID string   `json:"stationId"`
	TargetID  string   `json:"targetId"`
	RSSI      *float64 `json:"rssi,omitempty"`       // [dBm]
	Range     *float64 `json:"range,omitempty"`      // measured distance [m]
	RangeStd  *float64 `json:"rangeStd,omitempty"`   // ranging std dev [m]
	SNR       *float64 `json:"snr,omitempty"`        // quality metadata [dB]
	Timestamp int64    `json:"timestamp,omitempty"`  // unix seconds
}

// RSSISample converts an RSSI reading against a station at pos into a
// distance sample, attaching the propagated std dev and an SNR-derived
// quality score.
func RSSISample(stationID string, pos Point, rssi float64, snr *float64, model PathLossModel) DistanceSample {
	return DistanceSample{
		StationID: stationID,
		Position:  pos,
		Distance:  model.Distance(rssi),
		StdDev:    model.DistanceStdDev(rssi),
		Quality:   qualityFromSNR(snr),
	}
}

// RangingSample converts a direct distance measurement into a sample.
func RangingSample(stationID string, pos Point, rng float64, rngStd, snr *float64) DistanceSample {
	s := DistanceSample{
		StationID: stationID,
		Position:  pos,
		Distance:  rng,
		Quality:   qualityFromSNR(snr),
	}
	if rngStd != nil && *rngStd > 0 {
		s.StdDev = *rngStd
	}
	return s
}

// SampleFromReading converts a raw reading into a distance sample using the
// model for RSSI-only readings. When both a range and an RSSI are present
// the two distance estimates are fused by inverse-variance weighting.
// Returns false when the reading carries neither.
func SampleFromReading(r Reading, pos Point, model PathLossModel) (DistanceSample, bool) {
	switch {
	case r.Range != nil && r.RSSI != nil:
		ranging := RangingSample(r.StationID, pos, *r.Range, r.RangeStd, r.SNR)
		rssi := RSSISample(r.StationID, pos, *r.RSSI, r.SNR, model)
		return fuseSamples(ranging, rssi), true
	case r.Range != nil:
		return RangingSample(r.StationID, pos, *r.Range, r.RangeStd, r.SNR), true
	case r.RSSI != nil:
		return RSSISample(r.StationID, pos, *r.RSSI, r.SNR, model), true
	default:
		return DistanceSample{}, false
	}
}

// fuseSamples combines two distance estimates for the same station by
// inverse-variance weighting. When either lacks a std dev the better
// instrument (ranging, passed first) wins outright.
func fuseSamples(a, b DistanceSample) DistanceSample {
	if !a.HasStdDev() || !b.HasStdDev() {
		return a
	}
	wa := 1 / (a.StdDev * a.StdDev)
	wb := 1 / (b.StdDev * b.StdDev)
	fused := a
	fused.Distance = (wa*a.Distance + wb*b.Distance) / (wa + wb)
	fused.StdDev = math.Sqrt(1 / (wa + wb))
	return fused
}

// Quality mapping bounds: SNR below the floor scores 0 (worst), above the
// ceiling scores 1.
const (
	snrQualityFloor   = -20.0
	snrQualityCeiling = 10.0
)

// qualityFromSNR maps an SNR in dB onto [0, 1], or NoQuality when absent.
func qualityFromSNR(snr *float64) float64 {
	if snr == nil {
		return NoQuality
	}
	q := (*snr - snrQualityFloor) / (snrQualityCeiling - snrQualityFloor)
	if q < 0 {
		return 0
	}
	if q > 1 {
		return 1
	}
	return q
}

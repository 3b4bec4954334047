package monitoring

import "math"

// MinSamples is the minimum history size before anomaly scoring activates.
const MinSamples = 10

// DefaultZScoreLimit is the |z| above which a sample is flagged anomalous.
const DefaultZScoreLimit = 2.5

// Score is the anomaly verdict for one sample. Advisory metadata only; it
// never raises alerts by itself.
type Score struct {
	IsAnomaly bool    `json:"isAnomaly"`
	ZScore    float64 `json:"zScore"`
}

// Detector flags statistical outliers against a sensor's rolling history.
type Detector struct {
	limit float64
}

// NewDetector constructs a detector. A non-positive limit falls back to the
// default.
func NewDetector(limit float64) *Detector {
	if limit <= 0 {
		limit = DefaultZScoreLimit
	}
	return &Detector{limit: limit}
}

// Evaluate scores value against the window's prior history. With fewer than
// MinSamples values, or a degenerate (constant) history, the sample is never
// anomalous.
func (d *Detector) Evaluate(window *Window, value float64) Score {
	if window == nil || window.Len() < MinSamples {
		return Score{}
	}
	mean, stddev := window.Stats()
	if stddev == 0 {
		return Score{}
	}
	z := (value - mean) / stddev
	return Score{
		IsAnomaly: math.Abs(z) > d.limit,
		ZScore:    z,
	}
}

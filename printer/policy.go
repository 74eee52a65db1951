package printer

import (
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/john/monox_bridge/uartwifi"
)

// Unit policy names accepted by NewUnitPolicy.
const (
	PolicyModel    = "model"
	PolicyProgress = "progress"
)

// DefaultSecondsMarker identifies models whose firmware already reports
// remaining time in seconds.
const DefaultSecondsMarker = "6K"

// DefaultProgressTolerance is the allowed gap between the time-based and the
// reported progress fraction.
const DefaultProgressTolerance = 0.15

// UnitPolicy decides whether a status record's remaining time must be scaled
// back down from the transport's minute conversion.
type UnitPolicy interface {
	Name() string
	ConvertToSeconds(info *uartwifi.SysInfo, st *uartwifi.Status) bool
}

// ModelMarkerPolicy decides once per session from the model string.
type ModelMarkerPolicy struct {
	Marker string
}

func (p ModelMarkerPolicy) Name() string { return PolicyModel }

func (p ModelMarkerPolicy) ConvertToSeconds(info *uartwifi.SysInfo, _ *uartwifi.Status) bool {
	return info != nil && p.Marker != "" && strings.Contains(info.Model, p.Marker)
}

// ProgressVariancePolicy infers the unit at runtime: if elapsed/(elapsed+remaining)
// strays from the printer's own percent_complete by more than Tolerance, the
// remaining time is assumed to be over-scaled.
type ProgressVariancePolicy struct {
	Tolerance float64
}

func (p ProgressVariancePolicy) Name() string { return PolicyProgress }

func (p ProgressVariancePolicy) ConvertToSeconds(_ *uartwifi.SysInfo, st *uartwifi.Status) bool {
	if st == nil {
		return false
	}
	elapsed, ok := intField(st.SecondsElapse)
	if !ok {
		return false
	}
	remaining, ok := intField(st.SecondsRemaining)
	if !ok {
		return false
	}
	percent, ok := intField(st.PercentComplete)
	if !ok || percent <= 0 || elapsed+remaining <= 0 {
		return false
	}
	ratio := float64(elapsed) / float64(elapsed+remaining)
	return math.Abs(ratio-float64(percent)/100) > p.Tolerance
}

// NewUnitPolicy builds the policy named by name.
func NewUnitPolicy(name, marker string, tolerance float64) (UnitPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyModel:
		if marker == "" {
			marker = DefaultSecondsMarker
		}
		return ModelMarkerPolicy{Marker: marker}, nil
	case PolicyProgress:
		if tolerance <= 0 {
			tolerance = DefaultProgressTolerance
		}
		return ProgressVariancePolicy{Tolerance: tolerance}, nil
	default:
		return nil, errors.Errorf("unknown unit policy %q (supported: %s, %s)", name, PolicyModel, PolicyProgress)
	}
}

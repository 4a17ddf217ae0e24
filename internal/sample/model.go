package sample

import (
	"encoding/json"
	"time"
)

// Kind names one telemetry stream a device reports.
type Kind string

const (
	KindCPU     Kind = "cpu"
	KindMemory  Kind = "memory"
	KindDisk    Kind = "disk"
	KindSystem  Kind = "system"
	KindProcess Kind = "process"
	KindLog     Kind = "log"
)

// Kinds lists every stream the store accepts.
var Kinds = []Kind{KindCPU, KindMemory, KindDisk, KindSystem, KindProcess, KindLog}

// Valid reports whether k is a known stream kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// HostKey identifies one device within its tenant group.
type HostKey struct {
	Group string `json:"group"`
	Host  string `json:"host"`
}

// Sample is one timestamped observation reported by a device.
// Samples are immutable once written; retention is the store's concern.
type Sample struct {
	Group     string         `json:"group"`
	Host      string         `json:"host"`
	Kind      Kind           `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Key returns the sample's (group, host) identity.
func (s *Sample) Key() HostKey {
	return HostKey{Group: s.Group, Host: s.Host}
}

// Float reads a numeric field. Missing or non-numeric fields read as
// (0, false); a malformed sample must never fail a rule.
func (s *Sample) Float(name string) (float64, bool) {
	if s.Fields == nil {
		return 0, false
	}
	v, ok := s.Fields[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// FloatOrZero reads a numeric field, treating absence as 0.
func (s *Sample) FloatOrZero(name string) float64 {
	v, _ := s.Float(name)
	return v
}

// ClampPercent forces a percentage into [0, 100]. Malformed input can
// report out-of-range values; thresholds compare the clamped value.
func ClampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

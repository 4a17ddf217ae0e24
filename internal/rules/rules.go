package rules

import (
	"time"

	"github.com/fleetmon/fleetmon/internal/alert"
	"github.com/fleetmon/fleetmon/internal/config"
	"github.com/fleetmon/fleetmon/internal/sample"
)

// Rule is one sample-driven detection rule: a per-sample open
// qualifier with a minimum occurrence count over a lookback window,
// and a healthy predicate over a separate resolve window. Open and
// resolve conditions are deliberately not complements of each other;
// the gap between them is the hysteresis that keeps alerts from
// flapping.
type Rule struct {
	Type           alert.Type
	Kind           sample.Kind
	Window         time.Duration
	MinOccurrences int
	ResolveWindow  time.Duration

	// Qualifies reports whether one sample counts toward opening.
	Qualifies func(s *sample.Sample) bool
	// Healthy reports whether the resolve-window samples look healthy
	// enough to close an active alert.
	Healthy func(ss []sample.Sample) bool
}

// Deadman describes the absence-of-telemetry rule. It watches last
// contact rather than sample values: a device counts as expected when
// it reported cpu samples within the horizon.
type Deadman struct {
	Window        time.Duration
	ResolveWindow time.Duration
	Horizon       time.Duration
}

// FromConfig builds the cpu, memory and disk rules from the configured
// thresholds and windows.
func FromConfig(cfg config.RulesConfig) []Rule {
	return []Rule{
		{
			Type:           alert.TypeCPU,
			Kind:           sample.KindCPU,
			Window:         cfg.CPUWindow,
			MinOccurrences: cfg.CPUMinOccurrences,
			ResolveWindow:  cfg.ResolveWindow,
			Qualifies: func(s *sample.Sample) bool {
				used := s.FloatOrZero("usage_user") + s.FloatOrZero("usage_system")
				return used > cfg.CPUThreshold
			},
			// The close condition checks usage_idle, not the complement
			// of user+system. With idle/user/system/iowait splits the two
			// are not equivalent; idle above the threshold means load has
			// genuinely dropped.
			Healthy: func(ss []sample.Sample) bool {
				for i := range ss {
					if ss[i].FloatOrZero("usage_idle") > cfg.CPUThreshold {
						return true
					}
				}
				return false
			},
		},
		{
			Type:           alert.TypeMemory,
			Kind:           sample.KindMemory,
			Window:         cfg.MemWindow,
			MinOccurrences: cfg.MemMinOccurrences,
			ResolveWindow:  cfg.ResolveWindow,
			Qualifies: func(s *sample.Sample) bool {
				return sample.ClampPercent(s.FloatOrZero("used_percent")) >= cfg.MemThreshold
			},
			Healthy: func(ss []sample.Sample) bool {
				for i := range ss {
					if sample.ClampPercent(ss[i].FloatOrZero("used_percent")) < cfg.MemThreshold {
						return true
					}
				}
				return false
			},
		},
		{
			Type:           alert.TypeDisk,
			Kind:           sample.KindDisk,
			Window:         cfg.DiskWindow,
			MinOccurrences: cfg.DiskMinOccurrences,
			ResolveWindow:  cfg.ResolveWindow,
			Qualifies: func(s *sample.Sample) bool {
				return sample.ClampPercent(s.FloatOrZero("used_percent")) >= cfg.DiskThreshold
			},
			// Disk closes on the window maximum: every mount must have
			// dropped below the threshold, and an empty window is not
			// evidence of recovery.
			Healthy: func(ss []sample.Sample) bool {
				if len(ss) == 0 {
					return false
				}
				max := 0.0
				for i := range ss {
					if v := sample.ClampPercent(ss[i].FloatOrZero("used_percent")); v > max {
						max = v
					}
				}
				return max < cfg.DiskThreshold
			},
		},
	}
}

// DeadmanFromConfig builds the deadman rule.
func DeadmanFromConfig(cfg config.RulesConfig, horizon time.Duration) Deadman {
	return Deadman{
		Window:        cfg.DeadmanWindow,
		ResolveWindow: cfg.DeadmanResolveWindow,
		Horizon:       horizon,
	}
}

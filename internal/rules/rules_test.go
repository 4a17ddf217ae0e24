package rules

import (
	"testing"
	"time"

	"github.com/fleetmon/fleetmon/internal/alert"
	"github.com/fleetmon/fleetmon/internal/config"
	"github.com/fleetmon/fleetmon/internal/sample"
)

func testRulesConfig() config.RulesConfig {
	return config.RulesConfig{
		CPUThreshold:         80,
		MemThreshold:         90,
		DiskThreshold:        90,
		CPUMinOccurrences:    6,
		MemMinOccurrences:    2,
		DiskMinOccurrences:   2,
		CPUWindow:            5 * time.Minute,
		MemWindow:            5 * time.Minute,
		DiskWindow:           15 * time.Minute,
		DeadmanWindow:        5 * time.Minute,
		ResolveWindow:        6 * time.Minute,
		DeadmanResolveWindow: time.Minute,
	}
}

func ruleByType(t *testing.T, typ alert.Type) Rule {
	t.Helper()
	for _, r := range FromConfig(testRulesConfig()) {
		if r.Type == typ {
			return r
		}
	}
	t.Fatalf("no rule of type %q", typ)
	return Rule{}
}

func cpuSample(user, system float64) sample.Sample {
	return sample.Sample{
		Kind:   sample.KindCPU,
		Fields: map[string]any{"usage_user": user, "usage_system": system},
	}
}

func pctSample(kind sample.Kind, usedPercent float64) sample.Sample {
	return sample.Sample{
		Kind:   kind,
		Fields: map[string]any{"used_percent": usedPercent},
	}
}

func TestCPUQualifiesOnUserPlusSystem(t *testing.T) {
	r := ruleByType(t, alert.TypeCPU)

	s := cpuSample(50, 31)
	if !r.Qualifies(&s) {
		t.Fatalf("50+31 should exceed threshold 80")
	}
	s = cpuSample(40, 40)
	if r.Qualifies(&s) {
		t.Fatalf("exactly 80 should not qualify (strict greater-than)")
	}
	s = sample.Sample{Kind: sample.KindCPU}
	if r.Qualifies(&s) {
		t.Fatalf("missing fields read as 0 and must not qualify")
	}
}

func TestCPUHealthyChecksIdleNotComplement(t *testing.T) {
	r := ruleByType(t, alert.TypeCPU)

	// usage_idle above the threshold closes, even while user+system is
	// also high in another sample of the window.
	ss := []sample.Sample{
		cpuSample(60, 30),
		{Kind: sample.KindCPU, Fields: map[string]any{"usage_idle": 85.0}},
	}
	if !r.Healthy(ss) {
		t.Fatalf("a sample with idle above threshold should close the alert")
	}

	ss = []sample.Sample{
		{Kind: sample.KindCPU, Fields: map[string]any{"usage_idle": 10.0}},
	}
	if r.Healthy(ss) {
		t.Fatalf("low idle should not close the alert")
	}
	if r.Healthy(nil) {
		t.Fatalf("empty window should not close the alert")
	}
}

func TestMemoryQualifiesClamped(t *testing.T) {
	r := ruleByType(t, alert.TypeMemory)

	s := pctSample(sample.KindMemory, 95)
	if !r.Qualifies(&s) {
		t.Fatalf("95%% should qualify at threshold 90")
	}
	s = pctSample(sample.KindMemory, 90)
	if !r.Qualifies(&s) {
		t.Fatalf("exactly 90%% should qualify (greater-or-equal)")
	}
	s = pctSample(sample.KindMemory, 150)
	if !r.Qualifies(&s) {
		t.Fatalf("150%% clamps to 100 and should qualify")
	}
	s = pctSample(sample.KindMemory, 50)
	if r.Qualifies(&s) {
		t.Fatalf("50%% should not qualify")
	}
}

func TestMemoryHealthyOnAnyLowSample(t *testing.T) {
	r := ruleByType(t, alert.TypeMemory)

	ss := []sample.Sample{
		pctSample(sample.KindMemory, 95),
		pctSample(sample.KindMemory, 70),
	}
	if !r.Healthy(ss) {
		t.Fatalf("one sample below threshold should close the alert")
	}

	ss = []sample.Sample{pctSample(sample.KindMemory, 95)}
	if r.Healthy(ss) {
		t.Fatalf("all samples above threshold should keep the alert open")
	}
}

func TestDiskQualifiesClamped(t *testing.T) {
	r := ruleByType(t, alert.TypeDisk)

	s := pctSample(sample.KindDisk, 150)
	if !r.Qualifies(&s) {
		t.Fatalf("out-of-range 150%% clamps to 100 and should qualify")
	}
	s = pctSample(sample.KindDisk, 89.9)
	if r.Qualifies(&s) {
		t.Fatalf("89.9%% should not qualify at threshold 90")
	}
}

func TestDiskHealthyOnWindowMax(t *testing.T) {
	r := ruleByType(t, alert.TypeDisk)

	ss := []sample.Sample{
		pctSample(sample.KindDisk, 50),
		pctSample(sample.KindDisk, 95),
	}
	if r.Healthy(ss) {
		t.Fatalf("max 95%% should keep the alert open")
	}

	ss = []sample.Sample{
		pctSample(sample.KindDisk, 50),
		pctSample(sample.KindDisk, 60),
	}
	if !r.Healthy(ss) {
		t.Fatalf("max 60%% should close the alert")
	}

	if r.Healthy(nil) {
		t.Fatalf("empty window is not evidence of recovery")
	}
}

func TestDeadmanFromConfig(t *testing.T) {
	d := DeadmanFromConfig(testRulesConfig(), 24*time.Hour)
	if d.Window != 5*time.Minute {
		t.Fatalf("unexpected window: %v", d.Window)
	}
	if d.ResolveWindow != time.Minute {
		t.Fatalf("unexpected resolve window: %v", d.ResolveWindow)
	}
	if d.Horizon != 24*time.Hour {
		t.Fatalf("unexpected horizon: %v", d.Horizon)
	}
}

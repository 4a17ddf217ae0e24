package sample

import (
	"encoding/json"
	"testing"
)

func TestFloatToleratesFieldShapes(t *testing.T) {
	s := Sample{
		Fields: map[string]any{
			"f64":    42.5,
			"int":    7,
			"number": json.Number("13.25"),
			"str":    "not a number",
		},
	}

	if v, ok := s.Float("f64"); !ok || v != 42.5 {
		t.Fatalf("f64: got %v ok=%v", v, ok)
	}
	if v, ok := s.Float("int"); !ok || v != 7 {
		t.Fatalf("int: got %v ok=%v", v, ok)
	}
	if v, ok := s.Float("number"); !ok || v != 13.25 {
		t.Fatalf("json.Number: got %v ok=%v", v, ok)
	}
	if v, ok := s.Float("str"); ok || v != 0 {
		t.Fatalf("non-numeric must read as 0, got %v ok=%v", v, ok)
	}
	if v, ok := s.Float("missing"); ok || v != 0 {
		t.Fatalf("missing must read as 0, got %v ok=%v", v, ok)
	}
	if v := s.FloatOrZero("missing"); v != 0 {
		t.Fatalf("FloatOrZero missing: got %v", v)
	}
}

func TestFloatNilFields(t *testing.T) {
	var s Sample
	if v, ok := s.Float("anything"); ok || v != 0 {
		t.Fatalf("nil fields: got %v ok=%v", v, ok)
	}
}

func TestClampPercent(t *testing.T) {
	if v := ClampPercent(150); v != 100 {
		t.Fatalf("150 should clamp to 100, got %v", v)
	}
	if v := ClampPercent(-3); v != 0 {
		t.Fatalf("-3 should clamp to 0, got %v", v)
	}
	if v := ClampPercent(55.5); v != 55.5 {
		t.Fatalf("in-range value must pass through, got %v", v)
	}
}

func TestKindValid(t *testing.T) {
	for _, k := range Kinds {
		if !k.Valid() {
			t.Fatalf("kind %q should be valid", k)
		}
	}
	if Kind("gpu").Valid() {
		t.Fatalf("unknown kind should not be valid")
	}
}

func TestIndexMemberRoundTrip(t *testing.T) {
	hk, ok := splitIndexMember(indexMember("acme", "web-01"))
	if !ok {
		t.Fatalf("member did not split")
	}
	if hk.Group != "acme" || hk.Host != "web-01" {
		t.Fatalf("unexpected key: %+v", hk)
	}

	if _, ok := splitIndexMember("no-separator"); ok {
		t.Fatalf("member without separator should not split")
	}
}

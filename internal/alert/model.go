package alert

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type names one detection rule family.
type Type string

const (
	TypeCPU     Type = "cpu"
	TypeMemory  Type = "memory"
	TypeDisk    Type = "disk"
	TypeDeadman Type = "deadman"
)

// Valid reports whether t is a known alert type.
func (t Type) Valid() bool {
	switch t {
	case TypeCPU, TypeMemory, TypeDisk, TypeDeadman:
		return true
	}
	return false
}

const activeSentinel = "ACTIVE"

// Resolution is a tagged variant: an alert is either still active or
// was resolved at a known time. The "at most one active record per
// (group, host, type)" invariant is enforced by the ledger's
// insert-if-absent primitive, never by this type.
type Resolution struct {
	resolved bool
	at       time.Time
}

func Active() Resolution {
	return Resolution{}
}

func ResolvedAt(t time.Time) Resolution {
	return Resolution{resolved: true, at: t}
}

func (r Resolution) IsActive() bool {
	return !r.resolved
}

// Time returns the resolution timestamp; ok is false while active.
func (r Resolution) Time() (time.Time, bool) {
	return r.at, r.resolved
}

func (r Resolution) String() string {
	if !r.resolved {
		return activeSentinel
	}
	return r.at.Format(time.RFC3339Nano)
}

func (r Resolution) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Resolution) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == activeSentinel {
		*r = Active()
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("alert: bad resolution %q: %w", s, err)
	}
	*r = ResolvedAt(t)
	return nil
}

// Alert is one open or historical alert record.
type Alert struct {
	ID              string     `json:"id"`
	Group           string     `json:"group"`
	Host            string     `json:"host"`
	Type            Type       `json:"type"`
	FirstDetectedAt time.Time  `json:"first_detected_at"`
	LastSeen        time.Time  `json:"last_seen"`
	Resolution      Resolution `json:"resolved_at"`
}

package status

import (
	"time"

	"github.com/fleetmon/fleetmon/internal/alert"
	"github.com/fleetmon/fleetmon/internal/sample"
)

// Status is a device's single displayed health state.
type Status string

const (
	Online  Status = "online"
	Warning Status = "warning"
	Offline Status = "offline"
)

// Resolve folds sample freshness and the active alert set into one
// status. Precedence, first match wins:
//
//  1. an active deadman alert means offline;
//  2. every latest sample older than the staleness window (absent
//     samples count as epoch, infinitely stale) means offline;
//  3. any remaining active alert means warning;
//  4. otherwise online.
//
// Pure and side-effect-free; safe to call per request with no
// coordination.
func Resolve(now time.Time, latest map[sample.Kind]time.Time, active []alert.Alert, staleness time.Duration) Status {
	for _, a := range active {
		if a.Type == alert.TypeDeadman && a.Resolution.IsActive() {
			return Offline
		}
	}

	var freshest time.Time
	for _, ts := range latest {
		if ts.After(freshest) {
			freshest = ts
		}
	}
	if now.Sub(freshest) > staleness {
		return Offline
	}

	for _, a := range active {
		if a.Resolution.IsActive() {
			return Warning
		}
	}
	return Online
}

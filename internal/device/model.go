package device

import "time"

type Device struct {
	Group        string    `json:"group"`
	Host         string    `json:"host"`
	Name         string    `json:"name"`
	Tags         []string  `json:"tags,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Key is the device's unique identity: host within its tenant group.
func (d *Device) Key() string {
	return d.Group + "/" + d.Host
}

package accessory

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joshp123/airbridge/plugins/airthings"
)

// Namespace seeds the name-based accessory UUIDs. Changing it re-keys every
// accessory, so it is fixed for the lifetime of the project.
var Namespace = uuid.MustParse("0b6c0c8e-6d53-4a57-9a1f-0f1d1a6c4e21")

// UUIDFor derives the stable accessory identifier for an upstream device.
func UUIDFor(deviceID string) string {
	return uuid.NewSHA1(Namespace, []byte(deviceID)).String()
}

// Record is the locally persisted view of one upstream device.
type Record struct {
	UUID          string           `json:"uuid"`
	DisplayName   string           `json:"displayName"`
	Device        airthings.Device `json:"device"`
	OrphanedSince *time.Time       `json:"orphanedSince,omitempty"`
}

// NewRecord builds the record for a device seen for the first time.
func NewRecord(device airthings.Device) Record {
	return Record{
		UUID:        UUIDFor(device.ID),
		DisplayName: DisplayName(device),
		Device:      device,
	}
}

func (r Record) Orphaned() bool {
	return r.OrphanedSince != nil
}

func (r Record) Clone() Record {
	r.Device.Sensors = append([]string(nil), r.Device.Sensors...)
	if r.OrphanedSince != nil {
		since := *r.OrphanedSince
		r.OrphanedSince = &since
	}
	return r
}

// DisplayName prefers the room the device was placed in.
func DisplayName(device airthings.Device) string {
	if name := strings.TrimSpace(device.Segment.Name); name != "" {
		return name
	}
	return "Airthings " + device.ID
}

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/joshp123/airbridge/internal/accessory"
)

// Registry exposes accessories as retained MQTT topics:
//
//	<prefix>/<uuid>/config  accessory description, emptied on unregister
//	<prefix>/<uuid>/state   latest snapshot
type Registry struct {
	pub    Publisher
	prefix string
	custom bool
}

// NewRegistry builds a registry. When custom is set the config payload
// declares the custom radon level characteristic.
func NewRegistry(pub Publisher, cfg Config, custom bool) *Registry {
	return &Registry{pub: pub, prefix: cfg.prefix(), custom: custom}
}

type configPayload struct {
	UUID            string                 `json:"uuid"`
	DeviceID        string                 `json:"deviceId"`
	Name            string                 `json:"name"`
	DeviceType      string                 `json:"deviceType"`
	Sensors         []string               `json:"sensors"`
	Location        string                 `json:"location,omitempty"`
	Characteristics []accessory.Descriptor `json:"characteristics,omitempty"`
}

func (r *Registry) Register(_ context.Context, record accessory.Record) error {
	payload := configPayload{
		UUID:       record.UUID,
		DeviceID:   record.Device.ID,
		Name:       record.DisplayName,
		DeviceType: record.Device.DeviceType,
		Sensors:    record.Device.Sensors,
		Location:   record.Device.Location.Name,
	}
	if r.custom {
		payload.Characteristics = []accessory.Descriptor{accessory.RadonLevelDescriptor()}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal accessory config: %w", err)
	}
	return r.pub.PublishWith(r.topic(record, "config"), data, true)
}

// Unregister clears both retained topics so brokers forget the accessory.
func (r *Registry) Unregister(_ context.Context, record accessory.Record) error {
	return errors.Join(
		r.pub.PublishWith(r.topic(record, "state"), nil, true),
		r.pub.PublishWith(r.topic(record, "config"), nil, true),
	)
}

func (r *Registry) Publish(_ context.Context, record accessory.Record, snapshot accessory.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal accessory state: %w", err)
	}
	return r.pub.PublishWith(r.topic(record, "state"), data, true)
}

func (r *Registry) topic(record accessory.Record, leaf string) string {
	return r.prefix + "/" + record.UUID + "/" + leaf
}

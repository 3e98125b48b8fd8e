package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joshp123/airbridge/internal/accessory"
)

const SchemaVersion = 1

var ErrNotFound = errors.New("accessory cache not found")

// Store persists the accessory record set between restarts.
type Store interface {
	Load(ctx context.Context) ([]accessory.Record, error)
	Save(ctx context.Context, records []accessory.Record) error
}

type cacheFile struct {
	SchemaVersion int                `json:"schema_version"`
	SavedAt       time.Time          `json:"saved_at"`
	Records       []accessory.Record `json:"records"`
}

func Encode(records []accessory.Record) ([]byte, error) {
	if records == nil {
		records = []accessory.Record{}
	}
	data, err := json.MarshalIndent(cacheFile{
		SchemaVersion: SchemaVersion,
		SavedAt:       time.Now().UTC(),
		Records:       records,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal accessory cache: %w", err)
	}
	return data, nil
}

func Decode(data []byte) ([]accessory.Record, error) {
	var cache cacheFile
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("decode accessory cache: %w", err)
	}
	if cache.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("unsupported schema_version: %d", cache.SchemaVersion)
	}
	for i, record := range cache.Records {
		if record.UUID == "" || record.Device.ID == "" {
			return nil, fmt.Errorf("accessory cache record %d missing uuid or device id", i)
		}
	}
	return cache.Records, nil
}

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joshp123/airbridge/internal/accessory"
	"github.com/joshp123/airbridge/plugins/airthings"
)

func sampleRecords() []accessory.Record {
	since := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	orphan := accessory.NewRecord(airthings.Device{ID: "d2", DeviceType: "WAVE_MINI"})
	orphan.OrphanedSince = &since
	return []accessory.Record{
		accessory.NewRecord(airthings.Device{
			ID:         "d1",
			DeviceType: "WAVE_PLUS",
			Sensors:    []string{airthings.Radon, airthings.Battery},
			Segment:    airthings.Segment{Name: "Bedroom"},
		}),
		orphan,
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "accessories.json")
	fs := NewFileStore(path)

	if err := fs.Save(context.Background(), sampleRecords()); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 permissions, got %o", info.Mode().Perm())
	}

	records, err := fs.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].DisplayName != "Bedroom" || records[0].Orphaned() {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	if !records[1].Orphaned() || !records[1].OrphanedSince.Equal(*sampleRecords()[1].OrphanedSince) {
		t.Fatalf("orphan marker lost: %+v", records[1])
	}
}

func TestFileStoreMissing(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "missing.json"))
	if _, err := fs.Load(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDecodeRejectsUnknownSchema(t *testing.T) {
	if _, err := Decode([]byte(`{"schema_version":7,"records":[]}`)); err == nil {
		t.Fatalf("expected schema error")
	}
	if _, err := Decode([]byte(`{"schema_version":1,"records":[{"uuid":""}]}`)); err == nil {
		t.Fatalf("expected invalid record error")
	}
}

type memStore struct {
	records []accessory.Record
	loadErr error
	saveErr error
	saves   int
}

func (m *memStore) Load(context.Context) ([]accessory.Record, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.records, nil
}

func (m *memStore) Save(_ context.Context, records []accessory.Record) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.records = records
	return nil
}

func TestMirroredFallsBackToRemote(t *testing.T) {
	local := &memStore{loadErr: ErrNotFound}
	remote := &memStore{records: sampleRecords()}
	m := Mirrored{Local: local, Remote: remote}

	records, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected remote records, got %d", len(records))
	}
	if local.saves != 1 || len(local.records) != 2 {
		t.Fatalf("expected local cache to be seeded")
	}
}

func TestMirroredBothMissing(t *testing.T) {
	m := Mirrored{Local: &memStore{loadErr: ErrNotFound}, Remote: &memStore{loadErr: ErrNotFound}}
	if _, err := m.Load(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMirroredRemoteSaveFailureIsNotFatal(t *testing.T) {
	local := &memStore{}
	remote := &memStore{saveErr: errors.New("bucket unreachable")}
	m := Mirrored{Local: local, Remote: remote}

	if err := m.Save(context.Background(), sampleRecords()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(local.records) != 2 || remote.saves != 1 {
		t.Fatalf("expected write-through to both stores")
	}
}

func TestMirroredLocalSaveFailureIsFatal(t *testing.T) {
	local := &memStore{saveErr: errors.New("disk full")}
	remote := &memStore{}
	m := Mirrored{Local: local, Remote: remote}

	if err := m.Save(context.Background(), sampleRecords()); err == nil {
		t.Fatalf("expected local failure to surface")
	}
	if remote.saves != 0 {
		t.Fatalf("remote written after local failure")
	}
}

func TestParseEndpoint(t *testing.T) {
	host, secure, err := parseEndpoint("http://minio.local:9000")
	if err != nil || host != "minio.local:9000" || secure {
		t.Fatalf("unexpected http parse: %s %t %v", host, secure, err)
	}
	host, secure, err = parseEndpoint("s3.eu-central-1.amazonaws.com")
	if err != nil || host != "s3.eu-central-1.amazonaws.com" || !secure {
		t.Fatalf("unexpected bare parse: %s %t %v", host, secure, err)
	}
	if _, _, err := parseEndpoint("https://"); err == nil {
		t.Fatalf("expected error for empty host")
	}
}

func TestNewS3StoreRequiresConfig(t *testing.T) {
	if _, err := NewS3Store(BlobConfig{Endpoint: "minio.local"}); err == nil {
		t.Fatalf("expected missing configuration error")
	}
	if (BlobConfig{}).Enabled() {
		t.Fatalf("empty config reported enabled")
	}
}

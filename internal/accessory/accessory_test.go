package accessory

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joshp123/airbridge/internal/poller"
	"github.com/joshp123/airbridge/plugins/airthings"
)

func TestUUIDForIsDeterministic(t *testing.T) {
	a := UUIDFor("2930000001")
	if a != UUIDFor("2930000001") {
		t.Fatalf("uuid changed between calls")
	}
	if a == UUIDFor("2930000002") {
		t.Fatalf("distinct devices share a uuid")
	}
}

func TestDisplayNameFallsBackToID(t *testing.T) {
	if got := DisplayName(airthings.Device{ID: "d1", Segment: airthings.Segment{Name: " Bedroom "}}); got != "Bedroom" {
		t.Fatalf("unexpected name: %q", got)
	}
	if got := DisplayName(airthings.Device{ID: "d1"}); got != "Airthings d1" {
		t.Fatalf("unexpected fallback: %q", got)
	}
}

func TestPresentRadonLeak(t *testing.T) {
	record := NewRecord(airthings.Device{ID: "d1", Sensors: []string{airthings.Radon}})
	opts := Options{RadonThreshold: 150}

	cases := []struct {
		radon float64
		leak  bool
	}{
		{200, true},
		{150, true},
		{149.9, false},
		{50, false},
	}
	for _, tc := range cases {
		snap := Present(record, poller.State{Sample: airthings.Sample{airthings.Radon: tc.radon}}, opts)
		if snap.RadonLeak == nil || *snap.RadonLeak != tc.leak {
			t.Fatalf("radon %v: expected leak=%t, got %+v", tc.radon, tc.leak, snap.RadonLeak)
		}
	}
}

func TestPresentNegativeThresholdClamps(t *testing.T) {
	record := NewRecord(airthings.Device{ID: "d1"})
	snap := Present(record, poller.State{Sample: airthings.Sample{airthings.Radon: 0}}, Options{RadonThreshold: -5})
	if !snap.Leak() {
		t.Fatalf("expected a zero threshold to flag any reading")
	}
}

func TestPresentExposesOnlyConfiguredSensors(t *testing.T) {
	record := NewRecord(airthings.Device{ID: "d1"})
	state := poller.State{Sample: airthings.Sample{
		airthings.Radon:       80,
		airthings.CO2:         1200,
		airthings.VOC:         300,
		airthings.Battery:     15,
		airthings.Temperature: 21.5,
	}}

	snap := Present(record, state, Options{RadonThreshold: 150})
	if snap.RadonLevel == nil || snap.Battery == nil {
		t.Fatalf("default sensors missing: %+v", snap)
	}
	if snap.CO2 != nil || snap.VOC != nil || snap.Temperature != nil {
		t.Fatalf("unexposed sensors leaked: %+v", snap)
	}
	if snap.BatteryLow == nil || !*snap.BatteryLow {
		t.Fatalf("expected battery low below 20")
	}

	snap = Present(record, state, Options{Sensors: []string{SensorCO2, SensorVOC}})
	if snap.RadonLevel != nil {
		t.Fatalf("radon exposed without being configured")
	}
	if snap.CO2Abnormal == nil || !*snap.CO2Abnormal {
		t.Fatalf("expected co2 above 1000 to be abnormal")
	}
	if snap.AirQuality != AirQualityGood {
		t.Fatalf("expected good air quality, got %s", snap.AirQuality)
	}
}

func TestPresentMissingReadingIsNil(t *testing.T) {
	record := NewRecord(airthings.Device{ID: "d1"})
	snap := Present(record, poller.State{Sample: airthings.Sample{airthings.Battery: 90}}, Options{})
	if snap.RadonLevel != nil || snap.RadonLeak != nil {
		t.Fatalf("absent radon reported as value")
	}
	if snap.BatteryLow == nil || *snap.BatteryLow {
		t.Fatalf("expected battery ok")
	}
}

func TestAirQualityBreakpoints(t *testing.T) {
	cases := map[float64]AirQuality{
		0:    AirQualityExcellent,
		250:  AirQualityExcellent,
		251:  AirQualityGood,
		500:  AirQualityGood,
		1000: AirQualityFair,
		2000: AirQualityInferior,
		2001: AirQualityPoor,
	}
	for voc, want := range cases {
		if got := AirQualityFromVOC(voc); got != want {
			t.Fatalf("voc %v: expected %s, got %s", voc, want, got)
		}
	}
}

func TestPresentRadonUnit(t *testing.T) {
	record := NewRecord(airthings.Device{ID: "d1"})
	state := poller.State{Sample: airthings.Sample{airthings.Radon: 74}}

	snap := Present(record, state, Options{RadonThreshold: 150, RadonUnit: "pCi", CustomCharacteristics: true})
	if snap.RadonLevel == nil || *snap.RadonLevel != 2 || snap.RadonUnit != "pCi/L" {
		t.Fatalf("unexpected converted level: %v %s", snap.RadonLevel, snap.RadonUnit)
	}
	if len(snap.Custom) != 1 || snap.Custom[0].Value != 2 {
		t.Fatalf("expected custom characteristic, got %+v", snap.Custom)
	}

	snap = Present(record, state, Options{RadonThreshold: 150})
	if *snap.RadonLevel != 74 || snap.RadonUnit != "Bq/m3" || len(snap.Custom) != 0 {
		t.Fatalf("unexpected default presentation: %+v", snap)
	}
}

func TestPresentFaultIncludesOrphan(t *testing.T) {
	record := NewRecord(airthings.Device{ID: "d1"})
	since := time.Now()
	record.OrphanedSince = &since

	snap := Present(record, poller.State{}, Options{})
	if !snap.Faulted || !snap.Orphaned {
		t.Fatalf("expected orphaned accessory to be faulted: %+v", snap)
	}
}

func TestSnapshotJSON(t *testing.T) {
	record := NewRecord(airthings.Device{ID: "d1", Segment: airthings.Segment{Name: "Cellar"}})
	snap := Present(record, poller.State{Sample: airthings.Sample{airthings.VOC: 50}}, Options{Sensors: []string{SensorVOC}})

	payload, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := string(payload)
	if !strings.Contains(body, `"airQuality":"excellent"`) {
		t.Fatalf("expected air quality tier in %s", body)
	}
	if strings.Contains(body, "radonLevel") {
		t.Fatalf("unexposed radon in %s", body)
	}

	var decoded Snapshot
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.AirQuality != AirQualityExcellent || decoded.VOC == nil || *decoded.VOC != 50 {
		t.Fatalf("unexpected decoded snapshot: %+v", decoded)
	}
	var q AirQuality
	if err := q.UnmarshalText([]byte("smoky")); err == nil {
		t.Fatalf("expected unknown tier error")
	}
}

func TestRadonDescriptorConcurrentFirstUse(t *testing.T) {
	var wg sync.WaitGroup
	results := make([]Descriptor, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = RadonLevelDescriptor()
		}(i)
	}
	wg.Wait()
	for _, d := range results {
		if d.UUID == "" || d.UUID != results[0].UUID {
			t.Fatalf("descriptor not shared: %+v", results)
		}
	}
}

type failingRegistry struct{ err error }

func (f failingRegistry) Register(context.Context, Record) error          { return f.err }
func (f failingRegistry) Unregister(context.Context, Record) error        { return f.err }
func (f failingRegistry) Publish(context.Context, Record, Snapshot) error { return f.err }

func TestRegistriesFanOut(t *testing.T) {
	mem := NewMemoryRegistry()
	boom := errors.New("boom")
	rs := Registries{failingRegistry{err: boom}, mem}

	record := NewRecord(airthings.Device{ID: "d1", Segment: airthings.Segment{Name: "Bedroom"}})
	if err := rs.Register(context.Background(), record); !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if _, ok := mem.Get(record.UUID); !ok {
		t.Fatalf("later registry skipped after failure")
	}

	snap := Present(record, poller.State{Sample: airthings.Sample{airthings.Radon: 300}}, Options{RadonThreshold: 150})
	_ = rs.Publish(context.Background(), record, snap)
	got, _ := mem.Get(record.UUID)
	if !got.Leak() {
		t.Fatalf("expected published snapshot, got %+v", got)
	}

	_ = rs.Unregister(context.Background(), record)
	if len(mem.Snapshots()) != 0 {
		t.Fatalf("expected registry to be empty")
	}
}

func TestMemoryRegistryIgnoresUnknownPublish(t *testing.T) {
	mem := NewMemoryRegistry()
	record := NewRecord(airthings.Device{ID: "d1"})
	if err := mem.Publish(context.Background(), record, Snapshot{UUID: record.UUID}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(mem.Snapshots()) != 0 {
		t.Fatalf("publish without register created an entry")
	}
}

package accessory

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/joshp123/airbridge/internal/poller"
	"github.com/joshp123/airbridge/plugins/airthings"
)

// Sensor names accepted in the sensors option.
const (
	SensorRadon       = "radon"
	SensorCO2         = "co2"
	SensorVOC         = "voc"
	SensorTemperature = "temperature"
	SensorHumidity    = "humidity"
	SensorBattery     = "battery"
	SensorPressure    = "pressure"
	SensorPM1         = "pm1"
	SensorPM25        = "pm25"
)

var sensorKinds = map[string]string{
	SensorRadon:       airthings.Radon,
	SensorCO2:         airthings.CO2,
	SensorVOC:         airthings.VOC,
	SensorTemperature: airthings.Temperature,
	SensorHumidity:    airthings.Humidity,
	SensorBattery:     airthings.Battery,
	SensorPressure:    airthings.Pressure,
	SensorPM1:         airthings.PM1,
	SensorPM25:        airthings.PM25,
}

// DefaultSensors is used when no sensors are configured.
var DefaultSensors = []string{SensorRadon, SensorBattery}

const (
	DefaultRadonThreshold = 150.0

	UnitBecquerel = "bq"
	UnitPicocurie = "pci"

	becquerelPerPicocurie = 37.0

	co2AbnormalPPM    = 1000.0
	batteryLowPercent = 20.0
)

// ValidSensor reports whether name is a known sensor option.
func ValidSensor(name string) bool {
	_, ok := sensorKinds[name]
	return ok
}

// Options controls how samples are mapped onto accessory characteristics.
type Options struct {
	// RadonThreshold is the leak level in Bq/m3. Negative values clamp to 0.
	RadonThreshold float64
	Sensors        []string
	// RadonUnit selects the display unit of the radon level: bq or pci.
	RadonUnit string
	// CustomCharacteristics attaches the custom radon level characteristic.
	CustomCharacteristics bool
}

func (o Options) normalized() Options {
	o.RadonThreshold = math.Max(0, o.RadonThreshold)
	if len(o.Sensors) == 0 {
		o.Sensors = DefaultSensors
	}
	o.RadonUnit = strings.ToLower(strings.TrimSpace(o.RadonUnit))
	if o.RadonUnit != UnitPicocurie {
		o.RadonUnit = UnitBecquerel
	}
	return o
}

func (o Options) exposes(sensor string) bool {
	return slices.Contains(o.Sensors, sensor)
}

// AirQuality is the categorical tier derived from the VOC reading.
type AirQuality int

const (
	AirQualityUnknown AirQuality = iota
	AirQualityExcellent
	AirQualityGood
	AirQualityFair
	AirQualityInferior
	AirQualityPoor
)

func (q AirQuality) String() string {
	switch q {
	case AirQualityExcellent:
		return "excellent"
	case AirQualityGood:
		return "good"
	case AirQualityFair:
		return "fair"
	case AirQualityInferior:
		return "inferior"
	case AirQualityPoor:
		return "poor"
	default:
		return "unknown"
	}
}

func (q AirQuality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

func (q *AirQuality) UnmarshalText(text []byte) error {
	for tier := AirQualityUnknown; tier <= AirQualityPoor; tier++ {
		if tier.String() == string(text) {
			*q = tier
			return nil
		}
	}
	return fmt.Errorf("unknown air quality %q", text)
}

// AirQualityFromVOC maps a VOC reading (ppb) onto the fixed tier breakpoints.
func AirQualityFromVOC(voc float64) AirQuality {
	switch {
	case voc <= 250:
		return AirQualityExcellent
	case voc <= 500:
		return AirQualityGood
	case voc <= 1000:
		return AirQualityFair
	case voc <= 2000:
		return AirQualityInferior
	default:
		return AirQualityPoor
	}
}

// Snapshot is the presentation-facing state of one accessory. Characteristics
// that are not exposed or not reported are nil.
type Snapshot struct {
	UUID     string    `json:"uuid"`
	DeviceID string    `json:"deviceId"`
	Name     string    `json:"name"`
	Faulted  bool      `json:"faulted"`
	Orphaned bool      `json:"orphaned"`
	Updated  time.Time `json:"updated,omitzero"`

	RadonLeak   *bool    `json:"radonLeak,omitempty"`
	RadonLevel  *float64 `json:"radonLevel,omitempty"`
	RadonUnit   string   `json:"radonUnit,omitempty"`
	CO2         *float64 `json:"co2,omitempty"`
	CO2Abnormal *bool    `json:"co2Abnormal,omitempty"`
	VOC         *float64 `json:"voc,omitempty"`
	// AirQuality is only set when a VOC reading is exposed.
	AirQuality  AirQuality `json:"airQuality,omitempty"`
	Temperature *float64   `json:"temperature,omitempty"`
	Humidity    *float64   `json:"humidity,omitempty"`
	Battery     *float64   `json:"battery,omitempty"`
	BatteryLow  *bool      `json:"batteryLow,omitempty"`
	Pressure    *float64   `json:"pressure,omitempty"`
	PM1         *float64   `json:"pm1,omitempty"`
	PM25        *float64   `json:"pm25,omitempty"`

	Custom []CustomValue `json:"custom,omitempty"`
}

// Leak reports whether the snapshot currently signals a radon leak.
func (s Snapshot) Leak() bool {
	return s.RadonLeak != nil && *s.RadonLeak
}

// Present maps a device state onto the accessory characteristics enabled by
// opts. The fault indicator is raised for faulted or orphaned accessories.
func Present(record Record, state poller.State, opts Options) Snapshot {
	opts = opts.normalized()
	snap := Snapshot{
		UUID:     record.UUID,
		DeviceID: record.Device.ID,
		Name:     record.DisplayName,
		Faulted:  state.Faulted || record.Orphaned(),
		Orphaned: record.Orphaned(),
		Updated:  state.UpdatedAt,
	}

	reading := func(sensor string) (float64, bool) {
		if !opts.exposes(sensor) {
			return 0, false
		}
		return state.Sample.Get(sensorKinds[sensor])
	}

	if radon, ok := reading(SensorRadon); ok {
		snap.RadonLeak = ptr(radon >= opts.RadonThreshold)
		level := radon
		if opts.RadonUnit == UnitPicocurie {
			level = radon / becquerelPerPicocurie
		}
		snap.RadonLevel = ptr(level)
		snap.RadonUnit = unitLabel(opts.RadonUnit)
		if opts.CustomCharacteristics {
			snap.Custom = append(snap.Custom, CustomValue{
				Descriptor: RadonLevelDescriptor(),
				Value:      level,
				Unit:       snap.RadonUnit,
			})
		}
	}
	if co2, ok := reading(SensorCO2); ok {
		snap.CO2 = ptr(co2)
		snap.CO2Abnormal = ptr(co2 > co2AbnormalPPM)
	}
	if voc, ok := reading(SensorVOC); ok {
		snap.VOC = ptr(voc)
		snap.AirQuality = AirQualityFromVOC(voc)
	}
	if temp, ok := reading(SensorTemperature); ok {
		snap.Temperature = ptr(temp)
	}
	if humidity, ok := reading(SensorHumidity); ok {
		snap.Humidity = ptr(humidity)
	}
	if battery, ok := reading(SensorBattery); ok {
		snap.Battery = ptr(battery)
		snap.BatteryLow = ptr(battery < batteryLowPercent)
	}
	if pressure, ok := reading(SensorPressure); ok {
		snap.Pressure = ptr(pressure)
	}
	if pm1, ok := reading(SensorPM1); ok {
		snap.PM1 = ptr(pm1)
	}
	if pm25, ok := reading(SensorPM25); ok {
		snap.PM25 = ptr(pm25)
	}
	return snap
}

func unitLabel(unit string) string {
	if unit == UnitPicocurie {
		return "pCi/L"
	}
	return "Bq/m3"
}

func ptr[T any](v T) *T {
	return &v
}

func (s Snapshot) String() string {
	return fmt.Sprintf("%s (%s) faulted=%t leak=%t", s.Name, s.DeviceID, s.Faulted, s.Leak())
}

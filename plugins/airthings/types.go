package airthings

import (
	"encoding/json"
	"strings"
)

// Sensor kinds as reported in the latest-samples payload.
const (
	Radon       = "radonShortTermAvg"
	CO2         = "co2"
	VOC         = "voc"
	Temperature = "temp"
	Humidity    = "humidity"
	Battery     = "battery"
	Pressure    = "pressure"
	PM1         = "pm1"
	PM25        = "pm25"
)

// DeviceTypeHub marks the relay hubs that carry no sensors of their own.
const DeviceTypeHub = "HUB"

type Device struct {
	ID         string   `json:"id"`
	DeviceType string   `json:"deviceType"`
	Sensors    []string `json:"sensors"`
	Segment    Segment  `json:"segment"`
	Location   Location `json:"location"`
}

type Segment struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Started string `json:"started"`
	Active  bool   `json:"active"`
}

type Location struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (d Device) IsHub() bool {
	return strings.EqualFold(strings.TrimSpace(d.DeviceType), DeviceTypeHub)
}

// HasSensor reports whether the device lists the given kind.
func (d Device) HasSensor(kind string) bool {
	for _, sensor := range d.Sensors {
		if sensor == kind {
			return true
		}
	}
	return false
}

// Sample is the latest numeric reading per sensor kind. A missing key means
// the sensor did not report this cycle.
type Sample map[string]float64

func (s Sample) Get(kind string) (float64, bool) {
	value, ok := s[kind]
	return value, ok
}

func (s Sample) Clone() Sample {
	if s == nil {
		return nil
	}
	out := make(Sample, len(s))
	for kind, value := range s {
		out[kind] = value
	}
	return out
}

// Reading pairs a device with its most recent sample and fault flag.
type Reading struct {
	DeviceID string `json:"deviceId"`
	Name     string `json:"name"`
	Sample   Sample `json:"sample"`
	Faulted  bool   `json:"faulted"`
}

// nonSampleFields are numeric payload fields that are not sensor readings.
var nonSampleFields = map[string]bool{
	"time": true,
}

func normalizeSample(data map[string]json.RawMessage) Sample {
	sample := make(Sample, len(data))
	for kind, raw := range data {
		if nonSampleFields[kind] {
			continue
		}
		var value float64
		if err := json.Unmarshal(raw, &value); err != nil {
			continue
		}
		sample[kind] = value
	}
	return sample
}

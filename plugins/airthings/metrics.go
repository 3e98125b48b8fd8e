package airthings

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
)

// ReadingSource exposes the most recent reading of every polled device.
type ReadingSource interface {
	Readings() []Reading
}

// MetricsCollector exports the cached device samples. It never calls the API;
// scrapes read whatever the pollers last stored.
type MetricsCollector struct {
	source ReadingSource

	sample  *prometheus.GaugeVec
	faulted *prometheus.GaugeVec
	devices prometheus.Gauge
}

func NewMetricsCollector(source ReadingSource) *MetricsCollector {
	return &MetricsCollector{
		source: source,
		sample: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "airbridge_airthings_sample",
			Help: "Latest sample value per device and sensor kind",
		}, []string{"device_id", "name", "kind"}),
		faulted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "airbridge_airthings_faulted",
			Help: "Device fault indicator (1=faulted, 0=ok)",
		}, []string{"device_id", "name"}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airbridge_airthings_devices",
			Help: "Number of devices currently polled",
		}),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.sample.Describe(ch)
	c.faulted.Describe(ch)
	c.devices.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.sample.Reset()
	c.faulted.Reset()

	var readings []Reading
	if c.source != nil {
		readings = c.source.Readings()
	}
	c.devices.Set(float64(len(readings)))

	for _, reading := range readings {
		labels := prometheus.Labels{"device_id": reading.DeviceID, "name": reading.Name}
		c.faulted.With(labels).Set(boolToFloat(reading.Faulted))

		kinds := make([]string, 0, len(reading.Sample))
		for kind := range reading.Sample {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			c.sample.WithLabelValues(reading.DeviceID, reading.Name, kind).Set(reading.Sample[kind])
		}
	}

	c.sample.Collect(ch)
	c.faulted.Collect(ch)
	c.devices.Collect(ch)
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

package homekit

import (
	"encoding/binary"
	"slices"

	hcaccessory "github.com/brutella/hc/accessory"
	"github.com/brutella/hc/characteristic"
	"github.com/brutella/hc/service"
	"github.com/google/uuid"

	"github.com/joshp123/airbridge/internal/accessory"
)

const manufacturer = "Airthings"

// sensorAccessory is one Airthings device as a HomeKit sensor accessory.
// Services are created only for the sensors enabled in the options.
type sensorAccessory struct {
	*hcaccessory.Accessory

	leak       *service.LeakSensor
	radonLevel *characteristic.Float
	airQuality *service.AirQualitySensor
	voc        *characteristic.VOCDensity
	pm25       *characteristic.PM2_5Density
	co2        *service.CarbonDioxideSensor
	co2Level   *characteristic.CarbonDioxideLevel
	temp       *service.TemperatureSensor
	humidity   *service.HumiditySensor
	battery    *service.BatteryService
	faults     []*characteristic.StatusFault
}

// accessoryID derives a stable HomeKit accessory id from the UUID so a
// device keeps its identity across restarts. Id 1 is the bridge.
func accessoryID(id string) uint64 {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return 0
	}
	return binary.BigEndian.Uint64(parsed[:8])>>12 + 2
}

func newSensorAccessory(record accessory.Record, opts accessory.Options) *sensorAccessory {
	info := hcaccessory.Info{
		Name:         record.DisplayName,
		SerialNumber: record.Device.ID,
		Manufacturer: manufacturer,
		Model:        record.Device.DeviceType,
	}
	a := &sensorAccessory{Accessory: hcaccessory.New(info, hcaccessory.TypeSensor)}
	a.Accessory.ID = accessoryID(record.UUID)

	exposes := func(sensor string) bool {
		sensors := opts.Sensors
		if len(sensors) == 0 {
			sensors = accessory.DefaultSensors
		}
		return slices.Contains(sensors, sensor)
	}

	if exposes(accessory.SensorRadon) {
		a.leak = service.NewLeakSensor()
		a.addFault(a.leak.Service)
		if opts.CustomCharacteristics {
			a.radonLevel = radonLevelCharacteristic()
			a.leak.AddCharacteristic(a.radonLevel.Characteristic)
		}
		a.AddService(a.leak.Service)
	}
	if exposes(accessory.SensorVOC) || exposes(accessory.SensorPM25) {
		a.airQuality = service.NewAirQualitySensor()
		a.addFault(a.airQuality.Service)
		if exposes(accessory.SensorVOC) {
			a.voc = characteristic.NewVOCDensity()
			a.airQuality.AddCharacteristic(a.voc.Characteristic)
		}
		if exposes(accessory.SensorPM25) {
			a.pm25 = characteristic.NewPM2_5Density()
			a.airQuality.AddCharacteristic(a.pm25.Characteristic)
		}
		a.AddService(a.airQuality.Service)
	}
	if exposes(accessory.SensorCO2) {
		a.co2 = service.NewCarbonDioxideSensor()
		a.co2Level = characteristic.NewCarbonDioxideLevel()
		a.co2.AddCharacteristic(a.co2Level.Characteristic)
		a.addFault(a.co2.Service)
		a.AddService(a.co2.Service)
	}
	if exposes(accessory.SensorTemperature) {
		a.temp = service.NewTemperatureSensor()
		a.addFault(a.temp.Service)
		a.AddService(a.temp.Service)
	}
	if exposes(accessory.SensorHumidity) {
		a.humidity = service.NewHumiditySensor()
		a.addFault(a.humidity.Service)
		a.AddService(a.humidity.Service)
	}
	if exposes(accessory.SensorBattery) {
		a.battery = service.NewBatteryService()
		a.battery.ChargingState.SetValue(characteristic.ChargingStateNotChargeable)
		a.AddService(a.battery.Service)
	}
	return a
}

func (a *sensorAccessory) addFault(svc *service.Service) {
	fault := characteristic.NewStatusFault()
	svc.AddCharacteristic(fault.Characteristic)
	a.faults = append(a.faults, fault)
}

func radonLevelCharacteristic() *characteristic.Float {
	desc := accessory.RadonLevelDescriptor()
	c := characteristic.NewFloat(desc.UUID)
	c.Format = characteristic.FormatFloat
	c.Perms = characteristic.PermsRead()
	c.Description = desc.Name
	c.SetMinValue(desc.MinValue)
	c.SetMaxValue(desc.MaxValue)
	c.SetStepValue(desc.MinStep)
	c.SetValue(0)
	return c
}

// apply pushes a snapshot onto the characteristics. Unreported values keep
// their previous state.
func (a *sensorAccessory) apply(snap accessory.Snapshot) {
	fault := characteristic.StatusFaultNoFault
	if snap.Faulted {
		fault = characteristic.StatusFaultGeneralFault
	}
	for _, f := range a.faults {
		f.SetValue(fault)
	}

	if a.leak != nil && snap.RadonLeak != nil {
		leak := characteristic.LeakDetectedLeakNotDetected
		if *snap.RadonLeak {
			leak = characteristic.LeakDetectedLeakDetected
		}
		a.leak.LeakDetected.SetValue(leak)
	}
	if a.radonLevel != nil && snap.RadonLevel != nil {
		a.radonLevel.SetValue(*snap.RadonLevel)
	}
	if a.airQuality != nil {
		a.airQuality.AirQuality.SetValue(int(snap.AirQuality))
	}
	if a.voc != nil && snap.VOC != nil {
		a.voc.SetValue(*snap.VOC)
	}
	if a.pm25 != nil && snap.PM25 != nil {
		a.pm25.SetValue(*snap.PM25)
	}
	if a.co2 != nil && snap.CO2Abnormal != nil {
		detected := characteristic.CarbonDioxideDetectedCO2LevelsNormal
		if *snap.CO2Abnormal {
			detected = characteristic.CarbonDioxideDetectedCO2LevelsAbnormal
		}
		a.co2.CarbonDioxideDetected.SetValue(detected)
	}
	if a.co2Level != nil && snap.CO2 != nil {
		a.co2Level.SetValue(*snap.CO2)
	}
	if a.temp != nil && snap.Temperature != nil {
		a.temp.CurrentTemperature.SetValue(*snap.Temperature)
	}
	if a.humidity != nil && snap.Humidity != nil {
		a.humidity.CurrentRelativeHumidity.SetValue(*snap.Humidity)
	}
	if a.battery != nil && snap.Battery != nil {
		a.battery.BatteryLevel.SetValue(int(*snap.Battery))
		low := characteristic.StatusLowBatteryBatteryLevelNormal
		if snap.BatteryLow != nil && *snap.BatteryLow {
			low = characteristic.StatusLowBatteryBatteryLevelLow
		}
		a.battery.StatusLowBattery.SetValue(low)
	}
}

package thresholds

import "github.com/rackwatch/rackwatch/internal/models"

// KeyInfo describes one member of the closed threshold vocabulary.
type KeyInfo struct {
	Metric string
	Unit   string
}

// keyInfo is the closed set of threshold keys. Anything outside this map
// is rejected by the store.
var keyInfo = map[string]KeyInfo{
	"critical_temperature_low":  {Metric: models.MetricTemperature, Unit: "°C"},
	"critical_temperature_high": {Metric: models.MetricTemperature, Unit: "°C"},
	"warning_temperature_low":   {Metric: models.MetricTemperature, Unit: "°C"},
	"warning_temperature_high":  {Metric: models.MetricTemperature, Unit: "°C"},

	"critical_humidity_low":  {Metric: models.MetricHumidity, Unit: "%"},
	"critical_humidity_high": {Metric: models.MetricHumidity, Unit: "%"},
	"warning_humidity_low":   {Metric: models.MetricHumidity, Unit: "%"},
	"warning_humidity_high":  {Metric: models.MetricHumidity, Unit: "%"},

	"critical_amperage_low_single_phase":  {Metric: models.MetricAmperage, Unit: "A"},
	"critical_amperage_high_single_phase": {Metric: models.MetricAmperage, Unit: "A"},
	"warning_amperage_low_single_phase":   {Metric: models.MetricAmperage, Unit: "A"},
	"warning_amperage_high_single_phase":  {Metric: models.MetricAmperage, Unit: "A"},
	"critical_amperage_low_3_phase":       {Metric: models.MetricAmperage, Unit: "A"},
	"critical_amperage_high_3_phase":      {Metric: models.MetricAmperage, Unit: "A"},
	"warning_amperage_low_3_phase":        {Metric: models.MetricAmperage, Unit: "A"},
	"warning_amperage_high_3_phase":       {Metric: models.MetricAmperage, Unit: "A"},

	"critical_voltage_low":  {Metric: models.MetricVoltage, Unit: "V"},
	"critical_voltage_high": {Metric: models.MetricVoltage, Unit: "V"},
	"warning_voltage_low":   {Metric: models.MetricVoltage, Unit: "V"},
	"warning_voltage_high":  {Metric: models.MetricVoltage, Unit: "V"},

	"critical_power_high": {Metric: "power", Unit: "W"},
	"warning_power_high":  {Metric: "power", Unit: "W"},
}

// ValidKey reports whether key belongs to the closed vocabulary.
func ValidKey(key string) bool {
	_, ok := keyInfo[key]
	return ok
}

// DefaultUnit returns the informational unit for a key, or "" for an
// unknown key.
func DefaultUnit(key string) string {
	return keyInfo[key].Unit
}

// MetricFor returns the metric a key belongs to, or "" for an unknown key.
func MetricFor(key string) string {
	return keyInfo[key].Metric
}

// Package alerts contains the evaluation core: per-PDU threshold
// classification and reconciliation of the persistent active-alert table.
package alerts

import (
	"github.com/rackwatch/rackwatch/internal/models"
)

// invalidReadingReason is emitted when the upstream current field is
// present but not numeric. It is a warning, never an error: the cycle
// continues.
const invalidReadingReason = "warning_amperage_invalid_reading"

// bounds holds the four resolved bounds for one metric.
type bounds struct {
	critLow  float64
	warnLow  float64
	warnHigh float64
	critHigh float64

	// keys, in the same order, so the emitted reason code is exactly the
	// threshold key that was crossed
	critLowKey  string
	warnLowKey  string
	warnHighKey string
	critHighKey string
}

// resolveBounds looks the four keys up in the effective set. A metric is
// evaluated only when all four bounds are present; allowZero admits zero
// bounds (voltage lower bounds of zero stay meaningful), otherwise a
// bound <= 0 disables the metric.
func resolveBounds(eff map[string]float64, critLow, warnLow, warnHigh, critHigh string, allowZero bool) (bounds, bool) {
	b := bounds{
		critLowKey:  critLow,
		warnLowKey:  warnLow,
		warnHighKey: warnHigh,
		critHighKey: critHigh,
	}
	var ok bool
	if b.critLow, ok = eff[critLow]; !ok {
		return b, false
	}
	if b.warnLow, ok = eff[warnLow]; !ok {
		return b, false
	}
	if b.warnHigh, ok = eff[warnHigh]; !ok {
		return b, false
	}
	if b.critHigh, ok = eff[critHigh]; !ok {
		return b, false
	}
	if !allowZero && (b.critLow <= 0 || b.warnLow <= 0 || b.warnHigh <= 0 || b.critHigh <= 0) {
		return b, false
	}
	return b, true
}

// evaluate compares a value against closed-interval bounds and returns at
// most one reason: critical wins over warning, low is checked before high.
func evaluate(metric, field string, value float64, b bounds) *models.Reason {
	switch {
	case value <= b.critLow:
		return &models.Reason{
			Code: b.critLowKey, Severity: models.SeverityCritical,
			Metric: metric, Field: field, Value: value, Threshold: b.critLow,
		}
	case value >= b.critHigh:
		return &models.Reason{
			Code: b.critHighKey, Severity: models.SeverityCritical,
			Metric: metric, Field: field, Value: value, Threshold: b.critHigh,
		}
	case value <= b.warnLow:
		return &models.Reason{
			Code: b.warnLowKey, Severity: models.SeverityWarning,
			Metric: metric, Field: field, Value: value, Threshold: b.warnLow,
		}
	case value >= b.warnHigh:
		return &models.Reason{
			Code: b.warnHighKey, Severity: models.SeverityWarning,
			Metric: metric, Field: field, Value: value, Threshold: b.warnHigh,
		}
	default:
		return nil
	}
}

// Classify maps one PDU reading plus its effective thresholds to a status
// and the union of typed reasons. Metrics with incomplete bounds are
// skipped, never defaulted.
func Classify(pdu models.PDU, eff map[string]float64) (models.Status, []models.Reason) {
	reasons := make([]models.Reason, 0, 2)

	reasons = append(reasons, classifyAmperage(pdu, eff)...)
	reasons = append(reasons, classifyVoltage(pdu, eff)...)

	if pdu.SensorTemperature != nil {
		if b, ok := resolveBounds(eff,
			"critical_temperature_low", "warning_temperature_low",
			"warning_temperature_high", "critical_temperature_high", false); ok {
			if r := evaluate(models.MetricTemperature, models.FieldTemperature, *pdu.SensorTemperature, b); r != nil {
				reasons = append(reasons, *r)
			}
		}
	}

	if pdu.SensorHumidity != nil {
		if b, ok := resolveBounds(eff,
			"critical_humidity_low", "warning_humidity_low",
			"warning_humidity_high", "critical_humidity_high", false); ok {
			if r := evaluate(models.MetricHumidity, models.FieldSensorHumidity, *pdu.SensorHumidity, b); r != nil {
				reasons = append(reasons, *r)
			}
		}
	}

	return deriveStatus(reasons), reasons
}

func classifyAmperage(pdu models.PDU, eff map[string]float64) []models.Reason {
	if pdu.CurrentInvalid {
		return []models.Reason{{
			Code:     invalidReadingReason,
			Severity: models.SeverityWarning,
			Metric:   models.MetricAmperage,
			Field:    models.FieldCurrent,
		}}
	}
	if pdu.Current == nil {
		return nil
	}

	var suffix string
	switch pdu.Phase {
	case models.PhaseSingle:
		suffix = "_single_phase"
	case models.PhaseThree:
		suffix = "_3_phase"
	default:
		// Unknown phase: no amperage evaluation.
		return nil
	}

	b, ok := resolveBounds(eff,
		"critical_amperage_low"+suffix, "warning_amperage_low"+suffix,
		"warning_amperage_high"+suffix, "critical_amperage_high"+suffix, false)
	if !ok {
		return nil
	}
	if r := evaluate(models.MetricAmperage, models.FieldCurrent, *pdu.Current, b); r != nil {
		return []models.Reason{*r}
	}
	return nil
}

func classifyVoltage(pdu models.PDU, eff map[string]float64) []models.Reason {
	if pdu.Voltage == nil {
		return nil
	}
	b, ok := resolveBounds(eff,
		"critical_voltage_low", "warning_voltage_low",
		"warning_voltage_high", "critical_voltage_high", true)
	if !ok {
		return nil
	}

	// Zero volts means no energy on the line: always critical-low, even
	// when the configured lower bound is zero itself.
	if *pdu.Voltage == 0 {
		return []models.Reason{{
			Code:      "critical_voltage_low",
			Severity:  models.SeverityCritical,
			Metric:    models.MetricVoltage,
			Field:     models.FieldVoltage,
			Value:     0,
			Threshold: b.critLow,
		}}
	}

	if r := evaluate(models.MetricVoltage, models.FieldVoltage, *pdu.Voltage, b); r != nil {
		return []models.Reason{*r}
	}
	return nil
}

// deriveStatus reduces reasons to a PDU status: any critical reason makes
// the PDU critical, else any warning makes it warning.
func deriveStatus(reasons []models.Reason) models.Status {
	status := models.StatusNormal
	for _, r := range reasons {
		switch r.Severity {
		case models.SeverityCritical:
			return models.StatusCritical
		case models.SeverityWarning:
			status = models.StatusWarning
		}
	}
	return status
}

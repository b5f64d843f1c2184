package alerts

import (
	"testing"

	"github.com/rackwatch/rackwatch/internal/models"
)

func f(v float64) *float64 { return &v }

func singlePhaseAmperageThresholds() map[string]float64 {
	return map[string]float64{
		"critical_amperage_low_single_phase":  2,
		"warning_amperage_low_single_phase":   4,
		"warning_amperage_high_single_phase":  20,
		"critical_amperage_high_single_phase": 25,
	}
}

func voltageThresholds() map[string]float64 {
	return map[string]float64{
		"critical_voltage_low":  200,
		"warning_voltage_low":   210,
		"warning_voltage_high":  245,
		"critical_voltage_high": 250,
	}
}

func hasReason(reasons []models.Reason, code string) bool {
	for _, r := range reasons {
		if r.Code == code {
			return true
		}
	}
	return false
}

func TestClassifyNormal(t *testing.T) {
	pdu := models.PDU{ID: "pdu-A", RackID: "rack-1", Phase: models.PhaseSingle, Current: f(10)}
	status, reasons := Classify(pdu, singlePhaseAmperageThresholds())
	if status != models.StatusNormal || len(reasons) != 0 {
		t.Fatalf("expected normal with no reasons, got %v %v", status, reasons)
	}
}

func TestClassifyCriticalHighAmperage(t *testing.T) {
	pdu := models.PDU{ID: "pdu-A", RackID: "rack-1", Phase: models.PhaseSingle, Current: f(26)}
	status, reasons := Classify(pdu, singlePhaseAmperageThresholds())
	if status != models.StatusCritical {
		t.Fatalf("expected critical, got %v", status)
	}
	if len(reasons) != 1 || reasons[0].Code != "critical_amperage_high_single_phase" {
		t.Fatalf("unexpected reasons: %+v", reasons)
	}
	if reasons[0].Value != 26 || reasons[0].Threshold != 25 {
		t.Fatalf("reason should carry value and bound: %+v", reasons[0])
	}
	if reasons[0].Field != models.FieldCurrent || reasons[0].Metric != models.MetricAmperage {
		t.Fatalf("reason field/metric wrong: %+v", reasons[0])
	}
}

func TestClassifyBoundsAreClosedIntervals(t *testing.T) {
	eff := singlePhaseAmperageThresholds()

	// Equal to critical high is critical.
	_, reasons := Classify(models.PDU{Phase: models.PhaseSingle, Current: f(25)}, eff)
	if !hasReason(reasons, "critical_amperage_high_single_phase") {
		t.Fatalf("value equal to critical bound must be critical: %+v", reasons)
	}

	// Equal to critical low is critical.
	_, reasons = Classify(models.PDU{Phase: models.PhaseSingle, Current: f(2)}, eff)
	if !hasReason(reasons, "critical_amperage_low_single_phase") {
		t.Fatalf("value equal to critical low must be critical: %+v", reasons)
	}

	// Equal to warning high is warning.
	status, reasons := Classify(models.PDU{Phase: models.PhaseSingle, Current: f(20)}, eff)
	if status != models.StatusWarning || !hasReason(reasons, "warning_amperage_high_single_phase") {
		t.Fatalf("value equal to warning bound must warn: %v %+v", status, reasons)
	}
}

func TestClassifyThreePhaseSelectsOwnKeys(t *testing.T) {
	eff := map[string]float64{
		"critical_amperage_low_3_phase":  5,
		"warning_amperage_low_3_phase":   10,
		"warning_amperage_high_3_phase":  60,
		"critical_amperage_high_3_phase": 80,
	}
	pdu := models.PDU{Phase: models.PhaseThree, Current: f(90)}
	status, reasons := Classify(pdu, eff)
	if status != models.StatusCritical || !hasReason(reasons, "critical_amperage_high_3_phase") {
		t.Fatalf("three-phase PDU must use 3_phase keys: %v %+v", status, reasons)
	}

	// Single-phase thresholds alone do not apply to a three-phase PDU.
	_, reasons = Classify(pdu, singlePhaseAmperageThresholds())
	if len(reasons) != 0 {
		t.Fatalf("mismatched phase keys must skip evaluation: %+v", reasons)
	}
}

func TestClassifyUnknownPhaseSkipsAmperage(t *testing.T) {
	pdu := models.PDU{Phase: models.PhaseUnknown, Current: f(1000)}
	status, reasons := Classify(pdu, singlePhaseAmperageThresholds())
	if status != models.StatusNormal || len(reasons) != 0 {
		t.Fatalf("unknown phase must emit no amperage reason: %v %+v", status, reasons)
	}
}

func TestClassifyInvalidCurrentReading(t *testing.T) {
	pdu := models.PDU{Phase: models.PhaseSingle, CurrentInvalid: true}
	status, reasons := Classify(pdu, singlePhaseAmperageThresholds())
	if status != models.StatusWarning {
		t.Fatalf("invalid reading should warn, got %v", status)
	}
	if len(reasons) != 1 || reasons[0].Code != "warning_amperage_invalid_reading" {
		t.Fatalf("expected invalid-reading reason: %+v", reasons)
	}
}

func TestClassifyIncompleteBoundsSkipMetric(t *testing.T) {
	eff := singlePhaseAmperageThresholds()
	delete(eff, "warning_amperage_low_single_phase")

	_, reasons := Classify(models.PDU{Phase: models.PhaseSingle, Current: f(1000)}, eff)
	if len(reasons) != 0 {
		t.Fatalf("missing bound must skip the metric entirely: %+v", reasons)
	}

	// A bound of zero disables non-voltage metrics too.
	eff = singlePhaseAmperageThresholds()
	eff["critical_amperage_low_single_phase"] = 0
	_, reasons = Classify(models.PDU{Phase: models.PhaseSingle, Current: f(1000)}, eff)
	if len(reasons) != 0 {
		t.Fatalf("zero bound must disable amperage: %+v", reasons)
	}
}

func TestClassifyVoltageZeroIsCriticalLow(t *testing.T) {
	pdu := models.PDU{ID: "pdu-B", Voltage: f(0)}
	status, reasons := Classify(pdu, voltageThresholds())
	if status != models.StatusCritical {
		t.Fatalf("zero volts must be critical, got %v", status)
	}
	if len(reasons) != 1 || reasons[0].Code != "critical_voltage_low" {
		t.Fatalf("expected critical_voltage_low: %+v", reasons)
	}
	if reasons[0].Value != 0 || reasons[0].Threshold != 200 {
		t.Fatalf("zero-volt reason should carry value 0 and the configured bound: %+v", reasons[0])
	}
}

func TestClassifyVoltageZeroBoundStillMeaningful(t *testing.T) {
	eff := map[string]float64{
		"critical_voltage_low":  0,
		"warning_voltage_low":   0,
		"warning_voltage_high":  245,
		"critical_voltage_high": 250,
	}
	// Zero lower bounds do not disable voltage: 0 V still fires.
	status, reasons := Classify(models.PDU{Voltage: f(0)}, eff)
	if status != models.StatusCritical || !hasReason(reasons, "critical_voltage_low") {
		t.Fatalf("voltage zero rule must survive zero bounds: %v %+v", status, reasons)
	}

	// A healthy voltage stays normal.
	status, reasons = Classify(models.PDU{Voltage: f(230)}, eff)
	if status != models.StatusNormal || len(reasons) != 0 {
		t.Fatalf("expected normal: %v %+v", status, reasons)
	}
}

func TestClassifyZeroCurrentIsLegitimateNoLoad(t *testing.T) {
	eff := singlePhaseAmperageThresholds()
	eff["critical_amperage_low_single_phase"] = 2

	_, reasons := Classify(models.PDU{Phase: models.PhaseSingle, Current: f(0)}, eff)
	// 0 <= critical low bound, so it is critical low by the interval rule;
	// there is no special zero-is-critical shortcut for current.
	if !hasReason(reasons, "critical_amperage_low_single_phase") {
		t.Fatalf("0 A under the low bound follows the ordinary interval rule: %+v", reasons)
	}

	// With low bounds disabled (absent), 0 A emits nothing.
	_, reasons = Classify(models.PDU{Phase: models.PhaseSingle, Current: f(0)}, map[string]float64{})
	if len(reasons) != 0 {
		t.Fatalf("no thresholds, no reasons: %+v", reasons)
	}
}

func TestClassifyTemperatureAndHumidityUseSensorFields(t *testing.T) {
	eff := map[string]float64{
		"critical_temperature_low":  5,
		"warning_temperature_low":   10,
		"warning_temperature_high":  35,
		"critical_temperature_high": 40,
		"critical_humidity_low":     10,
		"warning_humidity_low":      20,
		"warning_humidity_high":     70,
		"critical_humidity_high":    80,
	}
	pdu := models.PDU{
		Temperature:       f(90), // device-reported, must be ignored
		SensorTemperature: f(41),
		SensorHumidity:    f(85),
	}
	status, reasons := Classify(pdu, eff)
	if status != models.StatusCritical {
		t.Fatalf("expected critical, got %v", status)
	}
	if !hasReason(reasons, "critical_temperature_high") || !hasReason(reasons, "critical_humidity_high") {
		t.Fatalf("expected sensor temperature and humidity reasons: %+v", reasons)
	}

	// Sensor fields absent: nothing evaluated even with the device field.
	_, reasons = Classify(models.PDU{Temperature: f(90)}, eff)
	if len(reasons) != 0 {
		t.Fatalf("device temperature field must not be classified: %+v", reasons)
	}
}

func TestClassifyUnionOfReasons(t *testing.T) {
	eff := singlePhaseAmperageThresholds()
	for k, v := range voltageThresholds() {
		eff[k] = v
	}
	pdu := models.PDU{Phase: models.PhaseSingle, Current: f(26), Voltage: f(208)}
	status, reasons := Classify(pdu, eff)
	if status != models.StatusCritical {
		t.Fatalf("critical reason must win status: %v", status)
	}
	if !hasReason(reasons, "critical_amperage_high_single_phase") || !hasReason(reasons, "warning_voltage_low") {
		t.Fatalf("expected union of per-metric reasons: %+v", reasons)
	}
}

func TestDeriveStatus(t *testing.T) {
	if deriveStatus(nil) != models.StatusNormal {
		t.Fatal("no reasons is normal")
	}
	warn := []models.Reason{{Severity: models.SeverityWarning}}
	if deriveStatus(warn) != models.StatusWarning {
		t.Fatal("warning reasons make warning")
	}
	mixed := []models.Reason{{Severity: models.SeverityWarning}, {Severity: models.SeverityCritical}}
	if deriveStatus(mixed) != models.StatusCritical {
		t.Fatal("any critical reason makes critical")
	}
}

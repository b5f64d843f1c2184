package models

import "time"

// Metric type names used in alert rows and API filters.
const (
	MetricAmperage    = "amperage"
	MetricVoltage     = "voltage"
	MetricTemperature = "temperature"
	MetricHumidity    = "humidity"
)

// Raw upstream field names recorded on alert rows so operators can see
// exactly which reading tripped the bound.
const (
	FieldCurrent        = "current"
	FieldVoltage        = "voltage"
	FieldTemperature    = "temperature"
	FieldSensorHumidity = "sensorHumidity"
)

// ActiveAlert is a row in the live critical-alert table. At most one row
// exists per (pdu_id, metric_type, alert_reason).
type ActiveAlert struct {
	ID                int64     `json:"id"`
	PDUID             string    `json:"pduId"`
	RackID            string    `json:"rackId"`
	Name              string    `json:"name"`
	Country           string    `json:"country"`
	Site              string    `json:"site"`
	DC                string    `json:"dc"`
	Phase             Phase     `json:"phase"`
	Chain             string    `json:"chain"`
	Node              string    `json:"node"`
	Serial            string    `json:"serial"`
	AlertType         string    `json:"alertType"`
	MetricType        string    `json:"metricType"`
	AlertReason       string    `json:"alertReason"`
	AlertValue        float64   `json:"alertValue"`
	AlertField        string    `json:"alertField"`
	ThresholdExceeded float64   `json:"thresholdExceeded"`
	AlertStartedAt    time.Time `json:"alertStartedAt"`
	LastUpdatedAt     time.Time `json:"lastUpdatedAt"`
}

// AlertKey identifies an alert row independently of its surrogate id.
type AlertKey struct {
	PDUID       string
	MetricType  string
	AlertReason string
}

// Key returns the natural key of the row.
func (a ActiveAlert) Key() AlertKey {
	return AlertKey{PDUID: a.PDUID, MetricType: a.MetricType, AlertReason: a.AlertReason}
}

package models

// Phase describes the electrical topology of a PDU.
type Phase string

const (
	PhaseSingle  Phase = "single_phase"
	PhaseThree   Phase = "3_phase"
	PhaseUnknown Phase = "unknown"
)

// Status is the evaluated health of a PDU for one cycle.
type Status string

const (
	StatusNormal   Status = "normal"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Severity of a single alert reason.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// PDU is one power distribution unit's instantaneous state as merged from
// the upstream device and power endpoints. Measurements are pointers so
// that "unreadable" stays distinct from zero.
type PDU struct {
	ID      string `json:"pduId"`
	RackID  string `json:"rackId"`
	Name    string `json:"name"`
	Country string `json:"country"`
	Site    string `json:"site"`
	DC      string `json:"dc"`
	Phase   Phase  `json:"phase"`
	Chain   string `json:"chain"`
	Node    string `json:"node"`
	Serial  string `json:"serial"`
	GwName  string `json:"gwName"`
	GwIP    string `json:"gwIp"`

	Current           *float64 `json:"current,omitempty"`
	Voltage           *float64 `json:"voltage,omitempty"`
	Power             *float64 `json:"power,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	SensorTemperature *float64 `json:"sensorTemperature,omitempty"`
	SensorHumidity    *float64 `json:"sensorHumidity,omitempty"`

	// CurrentInvalid is set when the upstream current field was present
	// but not numeric. The classifier turns this into a warning reason
	// instead of dropping the PDU.
	CurrentInvalid bool `json:"currentInvalid,omitempty"`
}

// Reason is one typed classification outcome for a PDU metric.
type Reason struct {
	Code      string   `json:"code"`
	Severity  Severity `json:"severity"`
	Metric    string   `json:"metricType"`
	Field     string   `json:"alertField"`
	Value     float64  `json:"value"`
	Threshold float64  `json:"threshold"`
}

// ClassifiedPDU is a PDU reading together with its evaluation result.
type ClassifiedPDU struct {
	PDU
	Status        Status   `json:"status"`
	Reasons       []Reason `json:"reasons"`
	InMaintenance bool     `json:"inMaintenance"`
}

package contracts

// Event is one raw telemetry observation entering the streaming evaluator.
// EventTime is seconds since epoch; when zero the evaluator falls back to
// processing time.
type Event struct {
	EventTime float64        `json:"event_time,omitempty"`
	Metric    string         `json:"metric"`
	Value     float64        `json:"value"`
	Unit      string         `json:"unit,omitempty"`
	Tags      map[string]any `json:"tags,omitempty"`
}

// HBEventType is the closed set of wire event kinds.
type HBEventType string

const (
	HBDriftEvent       HBEventType = "DRIFT_EVENT"
	HBHealthEvent      HBEventType = "HEALTH_EVENT"
	HBActionRequest    HBEventType = "ACTION_REQUEST"
	HBActionAck        HBEventType = "ACTION_ACK"
	HBDecisionSnapshot HBEventType = "DECISION_SNAPSHOT"
)

// HBEvent is the envelope pushed to alert sinks and external systems.
type HBEvent struct {
	Type               HBEventType    `json:"type"`
	Timestamp          string         `json:"timestamp"`
	SystemID           string         `json:"system_id"`
	Status             Status         `json:"status,omitempty"`
	Severity           Severity       `json:"severity,omitempty"`
	RunID              string         `json:"run_id,omitempty"`
	DecisionID         string         `json:"decision_id,omitempty"`
	Confidence         *float64       `json:"confidence,omitempty"`
	BaselineConfidence *float64       `json:"baseline_confidence,omitempty"`
	ActionAllowed      *bool          `json:"action_allowed,omitempty"`
	Payload            map[string]any `json:"payload,omitempty"`
}

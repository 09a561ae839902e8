package models

import "time"

// EventType classifies pipeline lifecycle events.
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventStageChanged  EventType = "stage_changed"
	EventModelTrained  EventType = "model_trained"
	EventModelAccepted EventType = "model_accepted"
	EventModelRejected EventType = "model_rejected"
	EventModelDeployed EventType = "model_deployed"
	EventModelRestored EventType = "model_restored"
	EventRunCompleted  EventType = "run_completed"
)

// PipelineEvent is published for every lifecycle transition, feeding the
// Kafka events topic and the progress WebSocket.
type PipelineEvent struct {
	Type      EventType              `json:"type"`
	RunID     string                 `json:"run_id,omitempty"`
	Symbol    string                 `json:"symbol,omitempty"`
	Stage     Stage                  `json:"stage,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Signal is an actionable label derived from a model prediction.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// Prediction is a one-shot inference against the deployed artifact.
// Confidence is |p-0.5|*2 of the scaled prediction: BUY above 0.6,
// SELL below 0.4, HOLD between.
type Prediction struct {
	Symbol       string    `json:"symbol"`
	Signal       Signal    `json:"signal"`
	Confidence   float64   `json:"confidence"`
	Predicted    float64   `json:"predicted"`
	PredictedRaw float64   `json:"predicted_raw"`
	ModelVersion string    `json:"model_version"`
	Timestamp    time.Time `json:"timestamp"`
}

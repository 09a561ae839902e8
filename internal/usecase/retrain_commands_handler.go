package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	domrepo "FinTrain/internal/domain/repository"
	pkgkafka "FinTrain/pkg/kafka"
	"FinTrain/pkg/queue"
)

// RetrainCommand asks for a retraining of one instrument or a full run.
type RetrainCommand struct {
	Symbol string `json:"symbol,omitempty"`
	All    bool   `json:"all,omitempty"`
}

// RetrainMessageType is the queue message type retrain jobs listen on.
const RetrainMessageType = "retrain"

// RetrainCommandsHandler consumes retraining commands from Kafka and hands
// them to the work queue, where a single worker serializes execution.
type RetrainCommandsHandler struct {
	topic   string
	queue   queue.QueueService
	metrics domrepo.Metrics
}

func NewRetrainCommandsHandler(topic string, q queue.QueueService, metrics domrepo.Metrics) *RetrainCommandsHandler {
	return &RetrainCommandsHandler{topic: topic, queue: q, metrics: metrics}
}

func (h *RetrainCommandsHandler) Topic() string { return h.topic }

// incoming message schema: {symbol} or {all}
func (h *RetrainCommandsHandler) Handle(ctx context.Context, b []byte) error {
	var cmd RetrainCommand
	if err := json.Unmarshal(b, &cmd); err != nil {
		h.metrics.RecordError("command_unmarshal")
		return err
	}
	if !cmd.All && cmd.Symbol == "" {
		h.metrics.RecordError("command_empty")
		return fmt.Errorf("retrain command names neither a symbol nor a full run")
	}

	if err := h.queue.PublishMessage(ctx, RetrainMessageType, cmd); err != nil {
		h.metrics.RecordError("command_enqueue")
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*RetrainCommandsHandler)(nil)

package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"security-service/internal/client"
	"security-service/internal/models"
)

// KafkaNotifier publishes created incidents to the paging topic. The engine
// treats every Notify as best-effort.
type KafkaNotifier struct {
	producer *client.KafkaProducer
	topic    string
}

func NewKafkaNotifier(producer *client.KafkaProducer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic}
}

var _ Notifier = (*KafkaNotifier)(nil)

type incidentNotification struct {
	Incident  *models.Incident `json:"incident"`
	EventType string           `json:"event_type"`
	Timestamp time.Time        `json:"timestamp"`
	Source    string           `json:"source"`
}

func (n *KafkaNotifier) Notify(ctx context.Context, incident *models.Incident) error {
	payload, err := json.Marshal(incidentNotification{
		Incident:  incident,
		EventType: "incident_detected",
		Timestamp: time.Now().UTC(),
		Source:    "security-service",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal incident notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := n.producer.ProduceMessage(ctx, n.topic, []byte(incident.IncidentID), payload, map[string]string{
		"incident_type": incident.Type,
		"severity":      string(incident.Severity),
	}); err != nil {
		return fmt.Errorf("failed to publish incident notification: %w", err)
	}
	return nil
}

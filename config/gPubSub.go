package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

// DispatchEventMessage is the wire form of a dispatch status event published
// to the fulfillment events topic after the owning transaction commits.
type DispatchEventMessage struct {
	ID            int             `json:"id"`
	BusinessId    string          `json:"business_id"`
	ChallanId     int             `json:"challan_id"`
	ChallanNumber string          `json:"challan_number"`
	Event         string          `json:"event"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationId string          `json:"correlation_id"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func init() {
	godotenv.Load()
}

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	return ""
}

func getDispatchEventsTopic() string {
	if v := os.Getenv("DISPATCH_EVENTS_TOPIC"); v != "" {
		return v
	}
	return "fulfillment-dispatch-events"
}

func getPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	var (
		c   *pubsub.Client
		err error
	)
	if credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON"); credJSON != "" {
		c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
	} else {
		// Application Default Credentials (service account or GOOGLE_APPLICATION_CREDENTIALS).
		c, err = pubsub.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, err
	}
	pubsubClient = c
	return pubsubClient, nil
}

// PublishDispatchEventWithResult publishes one dispatch event and returns the
// Pub/Sub-assigned message id. Callers (the outbox dispatcher) own retries.
func PublishDispatchEventWithResult(ctx context.Context, businessId string, msg DispatchEventMessage) (string, error) {
	client, err := getPubSubClient(ctx)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}

	topic := client.Topic(getDispatchEventsTopic())
	res := topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"business_id":    businessId,
			"event":          msg.Event,
			"correlation_id": msg.CorrelationId,
		},
	})
	return res.Get(ctx)
}

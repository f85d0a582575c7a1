package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Notifier delivers customer notifications consumed from the event broker.
// Delivery is a structured log line; no mail gateway is wired.
type Notifier struct {
	Logger *logrus.Logger
}

// Handle decodes one notification event. A malformed body is an error so the
// broker can redeliver it.
func (n Notifier) Handle(routingKey string, body []byte) error {
	if !strings.HasPrefix(routingKey, "notification.") {
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("failed to decode notification %s: %w", routingKey, err)
	}
	fields := logrus.Fields{"event": strings.TrimPrefix(routingKey, "notification.")}
	for _, k := range []string{"number", "code", "status", "customer_id"} {
		if v, ok := payload[k]; ok {
			fields[k] = v
		}
	}
	n.Logger.WithFields(fields).Info("customer notified")
	return nil
}

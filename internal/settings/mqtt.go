package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/graywave-core/internal/infrastructure/mqtt"
)

// applyTimeout bounds persisting a setting received over MQTT.
const applyTimeout = 5 * time.Second

// MQTTSubscriber is the part of mqtt.Client used to receive settings.
type MQTTSubscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// BindMQTT applies JSON values published to graywave/settings/set/{key}.
// An empty payload deletes the key. When allowed is non-empty, other keys
// are rejected.
func BindMQTT(store *Store, client MQTTSubscriber, allowed ...string) error {
	var allow map[string]bool
	if len(allowed) > 0 {
		allow = make(map[string]bool, len(allowed))
		for _, k := range allowed {
			allow[k] = true
		}
	}

	handler := func(topic string, payload []byte) error {
		key := mqtt.LastLevel(topic)
		if allow != nil && !allow[key] {
			return fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}

		ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
		defer cancel()

		if len(payload) == 0 {
			return store.Delete(ctx, key)
		}

		var value any
		if err := json.Unmarshal(payload, &value); err != nil {
			return fmt.Errorf("decoding setting %q: %w", key, err)
		}
		return store.Set(ctx, key, value)
	}

	if err := client.Subscribe(mqtt.Topics{}.AllSettingsSet(), 1, handler); err != nil {
		return fmt.Errorf("subscribing to settings topic: %w", err)
	}
	return nil
}

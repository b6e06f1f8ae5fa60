// Package mqtt provides MQTT client connectivity for Gray Wave Core.
//
// The broker is the outward face of the decoder data plane: decoded
// positions are published for map front-ends, and remote operators change
// runtime settings by publishing to the settings topics.
//
//	decoders → map service → MQTT broker → map front-ends
//	operator → MQTT broker → settings store → supervised decoders
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllSettingsSet(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("settings change: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	client.Publish(mqtt.Topics{}.MapLocation("hfdl:AB123"), payload, 0, true)
package mqtt

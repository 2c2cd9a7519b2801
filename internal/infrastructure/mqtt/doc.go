// Package mqtt provides the outbound custody event stream for Custody Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing custody events with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Custody Core publishes every committed movement and generated delivery
// notification to the broker. Downstream consumers (the national registry
// dispatcher, dashboards) subscribe to the custody topics and never talk
// to the ledger database directly.
//
//	Custody Core → MQTT Broker → Registry Dispatcher / Dashboards
//
// The stream is publish-only and strictly post-commit: an event is emitted
// only after its ledger transaction succeeded, and a broker outage never
// blocks or rolls back a movement.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.Movements("center-001")
//	err = client.PublishJSON(topic, event, 1)
package mqtt

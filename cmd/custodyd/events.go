package main

import (
	"time"

	"github.com/odyotek/custody-core/internal/api"
	"github.com/odyotek/custody-core/internal/custody"
	"github.com/odyotek/custody-core/internal/infrastructure/influxdb"
	"github.com/odyotek/custody-core/internal/infrastructure/logging"
	"github.com/odyotek/custody-core/internal/infrastructure/mqtt"
	"github.com/odyotek/custody-core/internal/notification"
)

// eventFanout bridges domain post-commit hooks to the outbound surfaces:
// the WebSocket hub for connected UIs, MQTT for downstream integrations,
// and InfluxDB for operational metrics.
//
// The mqtt and influx clients are nil when disabled in config. MQTT
// publish failures are returned so the domain layer can log them; the
// influx client buffers writes internally and reports failures through
// its error callback.
type eventFanout struct {
	hub      *api.Hub
	mqtt     *mqtt.Client
	influx   *influxdb.Client
	centerID string
	qos      byte
	log      *logging.Logger
}

var (
	_ custody.EventPublisher       = (*eventFanout)(nil)
	_ custody.MetricsRecorder      = (*eventFanout)(nil)
	_ notification.EventPublisher  = (*eventFanout)(nil)
	_ notification.MetricsRecorder = (*eventFanout)(nil)
)

// PublishMovement pushes a committed ledger entry to WebSocket
// subscribers and the MQTT movement topic.
func (f *eventFanout) PublishMovement(entry custody.MovementEntry) error {
	f.hub.Broadcast(api.ChannelMovements, entry)

	if f.mqtt == nil {
		return nil
	}
	topic := mqtt.Topics{}.Movements(f.centerID)
	return f.mqtt.PublishJSON(topic, entry, f.qos)
}

// PublishNotification pushes a notification lifecycle event. The event
// argument selects the WebSocket channel; MQTT consumers get the event
// name in the envelope instead.
func (f *eventFanout) PublishNotification(n *notification.Notification, event string) {
	channel := api.ChannelNotificationGenerated
	if event == "cancelled" {
		channel = api.ChannelNotificationCancelled
	}
	f.hub.Broadcast(channel, n)

	if f.mqtt == nil {
		return
	}
	topic := mqtt.Topics{}.Notifications(f.centerID)
	envelope := map[string]any{
		"event":        event,
		"notification": n,
	}
	if err := f.mqtt.PublishJSON(topic, envelope, f.qos); err != nil {
		f.log.Warn("publishing notification event", "notification_id", n.ID, "error", err)
	}
}

// RecordMovement writes a movement metric point.
func (f *eventFanout) RecordMovement(operation, fromState, toState string) {
	if f.influx == nil {
		return
	}
	f.influx.WriteMovement(f.centerID, operation, fromState, toState)
}

// RecordBulkRun writes a bulk acquisition run summary.
func (f *eventFanout) RecordBulkRun(requested, succeeded, failed int, elapsed time.Duration) {
	if f.influx == nil {
		return
	}
	f.influx.WriteBulkRun(f.centerID, requested, succeeded, failed, elapsed)
}

// RecordNotification writes a notification outcome metric point.
func (f *eventFanout) RecordNotification(status string, deviceCount int) {
	if f.influx == nil {
		return
	}
	f.influx.WriteNotification(f.centerID, status, deviceCount)
}

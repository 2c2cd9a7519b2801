package mqtt

import "fmt"

// Topic prefixes for the custody event stream.
//
// All event topics are scoped by distribution center so a multi-center
// broker can route each center's feed independently:
//
//	custody/{center_id}/{stream}
const (
	// TopicPrefixCustody is the base for all custody event topics.
	TopicPrefixCustody = "custody"

	// TopicPrefixSystem is the base for service status topics.
	TopicPrefixSystem = "custody/system"
)

// Topics provides builders for custody event stream topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	movementTopic := topics.Movements("center-001")
//	// Returns: "custody/center-001/movements"
type Topics struct{}

// Movements returns the topic for committed custody movements of a center.
//
// Example: custody/center-001/movements
func (Topics) Movements(centerID string) string {
	return fmt.Sprintf("%s/%s/movements", TopicPrefixCustody, centerID)
}

// Notifications returns the topic for delivery notification lifecycle
// events (generated, completed, failed, cancelled) of a center.
//
// Example: custody/center-001/notifications
func (Topics) Notifications(centerID string) string {
	return fmt.Sprintf("%s/%s/notifications", TopicPrefixCustody, centerID)
}

// SystemStatus returns the service status topic. The online/offline
// payload here doubles as the LWT message.
//
// Example: custody/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllMovements returns a pattern matching movement feeds of every center.
// Consumers use this; Custody Core itself only publishes.
//
// Pattern: custody/+/movements
func (Topics) AllMovements() string {
	return fmt.Sprintf("%s/+/movements", TopicPrefixCustody)
}

// AllNotifications returns a pattern matching notification feeds of every center.
//
// Pattern: custody/+/notifications
func (Topics) AllNotifications() string {
	return fmt.Sprintf("%s/+/notifications", TopicPrefixCustody)
}

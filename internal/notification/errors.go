package notification

import "errors"

// Domain errors for the notification package.
var (
	// ErrNotFound is returned when a notification ID does not exist.
	ErrNotFound = errors.New("notification: not found")

	// ErrDuplicateNotification is returned when a device is already
	// covered by an active notification.
	ErrDuplicateNotification = errors.New("notification: device already covered by an active notification")

	// ErrDeviceNotDelivered is returned when a notification is requested
	// for a device that is not with the consumer.
	ErrDeviceNotDelivered = errors.New("notification: device not delivered to consumer")

	// ErrAlreadyCancelled is returned when cancelling an already
	// cancelled notification.
	ErrAlreadyCancelled = errors.New("notification: already cancelled")

	// ErrNoDevices is returned when a generation request names no devices.
	ErrNoDevices = errors.New("notification: at least one device is required")
)

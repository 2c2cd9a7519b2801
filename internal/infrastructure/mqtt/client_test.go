package mqtt

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// =============================================================================
// Topics Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name     string
		builder  func() string
		expected string
	}{
		{
			name: "Movements",
			builder: func() string {
				return Topics{}.Movements("center-001")
			},
			expected: "custody/center-001/movements",
		},
		{
			name: "Notifications",
			builder: func() string {
				return Topics{}.Notifications("center-001")
			},
			expected: "custody/center-001/notifications",
		},
		{
			name: "SystemStatus",
			builder: func() string {
				return Topics{}.SystemStatus()
			},
			expected: "custody/system/status",
		},
		{
			name: "AllMovements",
			builder: func() string {
				return Topics{}.AllMovements()
			},
			expected: "custody/+/movements",
		},
		{
			name: "AllNotifications",
			builder: func() string {
				return Topics{}.AllNotifications()
			},
			expected: "custody/+/notifications",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.builder()
			if result != tt.expected {
				t.Errorf("%s() = %q, want %q", tt.name, result, tt.expected)
			}
		})
	}
}

// =============================================================================
// Publish Validation Tests (no broker required)
// =============================================================================

func TestPublishEmptyTopic(t *testing.T) {
	client := &Client{}

	err := client.Publish("", []byte("test"), 1, false)
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish() error = %v, want ErrInvalidTopic", err)
	}
}

func TestPublishInvalidQoS(t *testing.T) {
	client := &Client{}

	err := client.Publish("custody/test", []byte("test"), 3, false)
	if !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish() error = %v, want ErrInvalidQoS", err)
	}
}

func TestPublishOversizedPayload(t *testing.T) {
	client := &Client{}

	payload := make([]byte, maxPayloadSize+1)
	err := client.Publish("custody/test", payload, 1, false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
	}
}

func TestPublishDisconnected(t *testing.T) {
	client := &Client{}

	err := client.Publish("custody/test", []byte("test"), 1, false)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestPublishJSONUnmarshalable(t *testing.T) {
	client := &Client{}

	// Channels cannot be marshalled to JSON.
	err := client.PublishJSON("custody/test", make(chan int), 1)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON() error = %v, want ErrPublishFailed", err)
	}
}

// =============================================================================
// Client State Tests
// =============================================================================

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}

	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

// =============================================================================
// Status Payload Tests
// =============================================================================

func TestStatusPayloadsAreValidJSON(t *testing.T) {
	payloads := map[string]string{
		"online":  buildOnlinePayload("custody-test"),
		"offline": buildOfflinePayload("custody-test"),
	}

	for status, payload := range payloads {
		t.Run(status, func(t *testing.T) {
			var decoded struct {
				Status    string `json:"status"`
				ClientID  string `json:"client_id"`
				Timestamp string `json:"timestamp"`
			}
			if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
				t.Fatalf("payload is not valid JSON: %v", err)
			}
			if decoded.Status != status {
				t.Errorf("status = %q, want %q", decoded.Status, status)
			}
			if decoded.ClientID != "custody-test" {
				t.Errorf("client_id = %q, want %q", decoded.ClientID, "custody-test")
			}
			if decoded.Timestamp == "" {
				t.Error("timestamp is empty")
			}
		})
	}
}

func TestOfflinePayloadReason(t *testing.T) {
	payload := buildOfflinePayload("custody-test")
	if !strings.Contains(payload, "graceful_shutdown") {
		t.Errorf("offline payload missing graceful_shutdown reason: %s", payload)
	}
}

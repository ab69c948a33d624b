package notifications

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/brandpulse/pkg/enums"
)

// Message is the broker envelope for a brand or user notification.
type Message struct {
	TargetBrandID *uuid.UUID             `json:"targetBrandId,omitempty"`
	TargetUserID  *uuid.UUID             `json:"targetUserId,omitempty"`
	Type          enums.NotificationType `json:"type"`
	Payload       json.RawMessage        `json:"payload,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

// Delivery is what connected clients receive.
type Delivery struct {
	ID        uuid.UUID              `json:"id"`
	Type      enums.NotificationType `json:"type"`
	Payload   json.RawMessage        `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func decodeMessage(raw string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return Message{}, fmt.Errorf("decode notification: %w", err)
	}
	if !msg.Type.IsValid() {
		return Message{}, fmt.Errorf("unknown notification type %q", msg.Type)
	}
	return msg, nil
}

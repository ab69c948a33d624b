package notifications

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/brandpulse/internal/gateway"
	"github.com/angelmondragon/brandpulse/pkg/config"
	"github.com/angelmondragon/brandpulse/pkg/logger"
	"github.com/angelmondragon/brandpulse/pkg/metrics"
	"github.com/angelmondragon/brandpulse/pkg/redis"
)

// Rooms is the gateway surface the bridge delivers through.
type Rooms interface {
	RoomSize(room string) int
	DeliverToRoom(room, event string, payload any) bool
}

// Drop reasons recorded in metrics.
const (
	DropInvalid     = "invalid"
	DropNoTarget    = "no_target"
	DropNoListeners = "no_listeners"
	DropUndelivered = "undelivered"
)

// BridgeParams wire the notification bridge.
type BridgeParams struct {
	Subscriber redis.Subscriber
	Rooms      Rooms
	Config     config.NotificationsConfig
	Logger     *logger.Logger
	Metrics    *metrics.NotificationMetrics
}

// Bridge relays broker notifications to gateway rooms. Messages for empty
// rooms are dropped.
type Bridge struct {
	sub     redis.Subscriber
	rooms   Rooms
	cfg     config.NotificationsConfig
	logg    *logger.Logger
	metrics *metrics.NotificationMetrics
	newID   func() uuid.UUID
}

// NewBridge validates params.
func NewBridge(params BridgeParams) (*Bridge, error) {
	if params.Subscriber == nil {
		return nil, fmt.Errorf("notification subscriber required")
	}
	if params.Rooms == nil {
		return nil, fmt.Errorf("gateway rooms required")
	}
	if params.Config.BrandChannel == "" {
		return nil, fmt.Errorf("brand notification channel required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Bridge{
		sub:     params.Subscriber,
		rooms:   params.Rooms,
		cfg:     params.Config,
		logg:    logg,
		metrics: params.Metrics,
		newID:   uuid.New,
	}, nil
}

// Channels returns the subscribed channel set.
func (b *Bridge) Channels() []string {
	channels := []string{b.cfg.BrandChannel}
	if b.cfg.EnableUserChannel && b.cfg.UserChannel != "" {
		channels = append(channels, b.cfg.UserChannel)
	}
	return channels
}

// Run relays until ctx is canceled.
func (b *Bridge) Run(ctx context.Context) error {
	sub, err := b.sub.Subscribe(ctx, b.Channels()...)
	if err != nil {
		return err
	}
	defer sub.Close()

	b.logg.Info(b.logg.WithField(ctx, "channels", b.Channels()), "notification bridge subscribed")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("notification subscription closed")
			}
			b.Handle(ctx, msg)
		}
	}
}

// Handle relays one broker message and reports whether it was delivered.
func (b *Bridge) Handle(ctx context.Context, raw redis.Message) bool {
	ctx = b.logg.WithField(ctx, "channel", raw.Channel)

	msg, err := decodeMessage(raw.Payload)
	if err != nil {
		b.logg.Warn(b.logg.WithField(ctx, "error", err.Error()), "skipping invalid notification")
		b.metrics.IncDropped(raw.Channel, DropInvalid)
		return false
	}

	room, ok := b.roomFor(raw.Channel, msg)
	if !ok {
		b.logg.Warn(ctx, "notification has no target for channel")
		b.metrics.IncDropped(raw.Channel, DropNoTarget)
		return false
	}
	ctx = b.logg.WithFields(ctx, map[string]any{"room": room, "type": string(msg.Type)})

	if b.rooms.RoomSize(room) == 0 {
		b.logg.Debug(ctx, "no listeners; dropping notification")
		b.metrics.IncDropped(raw.Channel, DropNoListeners)
		return false
	}

	delivered := b.rooms.DeliverToRoom(room, string(msg.Type), Delivery{
		ID:        b.newID(),
		Type:      msg.Type,
		Payload:   msg.Payload,
		Timestamp: msg.Timestamp,
	})
	if !delivered {
		b.metrics.IncDropped(raw.Channel, DropUndelivered)
		return false
	}
	b.metrics.IncDelivered(raw.Channel)
	return true
}

func (b *Bridge) roomFor(channel string, msg Message) (string, bool) {
	switch channel {
	case b.cfg.BrandChannel:
		if msg.TargetBrandID == nil || *msg.TargetBrandID == uuid.Nil {
			return "", false
		}
		return gateway.BrandRoom(*msg.TargetBrandID), true
	case b.cfg.UserChannel:
		if msg.TargetUserID == nil || *msg.TargetUserID == uuid.Nil {
			return "", false
		}
		return gateway.UserRoom(*msg.TargetUserID), true
	default:
		return "", false
	}
}

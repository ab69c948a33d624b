package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/brandpulse/pkg/config"
	"github.com/angelmondragon/brandpulse/pkg/enums"
	pkgerrors "github.com/angelmondragon/brandpulse/pkg/errors"
	"github.com/angelmondragon/brandpulse/pkg/redis"
)

// Publisher sends notifications on the broker channels.
type Publisher struct {
	broker redis.Publisher
	cfg    config.NotificationsConfig
	now    func() time.Time
}

// NewPublisher binds a publisher to the broker.
func NewPublisher(broker redis.Publisher, cfg config.NotificationsConfig) (*Publisher, error) {
	if broker == nil {
		return nil, fmt.Errorf("notification broker required")
	}
	if cfg.BrandChannel == "" {
		return nil, fmt.Errorf("brand notification channel required")
	}
	return &Publisher{broker: broker, cfg: cfg, now: time.Now}, nil
}

// PublishBrand notifies every client in the brand's room.
func (p *Publisher) PublishBrand(ctx context.Context, brandID uuid.UUID, kind enums.NotificationType, payload any) error {
	return p.publish(ctx, p.cfg.BrandChannel, Message{TargetBrandID: &brandID, Type: kind}, payload)
}

// PublishUser notifies a user's room. The channel is only bridged when
// enabled in config.
func (p *Publisher) PublishUser(ctx context.Context, userID uuid.UUID, kind enums.NotificationType, payload any) error {
	if p.cfg.UserChannel == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "user notification channel not configured")
	}
	return p.publish(ctx, p.cfg.UserChannel, Message{TargetUserID: &userID, Type: kind}, payload)
}

func (p *Publisher) publish(ctx context.Context, channel string, msg Message, payload any) error {
	if !msg.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown notification type %q", msg.Type))
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode notification payload")
		}
		msg.Payload = raw
	}
	msg.Timestamp = p.now().UTC()

	body, err := json.Marshal(msg)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode notification")
	}
	if _, err := p.broker.Publish(ctx, channel, body); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish notification")
	}
	return nil
}

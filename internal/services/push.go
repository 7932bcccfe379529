package services

import (
	"context"
	"fmt"
	"time"

	"couple-sync-backend/internal/config"
	"couple-sync-backend/internal/repository"

	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/token"
)

// PushService delivers background sync hints over APNs to devices without
// an open hint channel. Delivery is best effort and never a correctness
// dependency; failures are logged and forgotten.
type PushService struct {
	client   *apns2.Client
	topic    string
	userRepo *repository.UserRepository
}

// NewPushService creates a new push service
func NewPushService(cfg config.APNSConfig, userRepo *repository.UserRepository) (*PushService, error) {
	authKey, err := token.AuthKeyFromFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs auth key: %w", err)
	}

	t := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(t)
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return &PushService{
		client:   client,
		topic:    cfg.Topic,
		userRepo: userRepo,
	}, nil
}

// Hint sends a silent background push nudging the user's device to poll.
func (p *PushService) Hint(ctx context.Context, userID string) {
	if userID == "" {
		return
	}

	user, err := p.userRepo.GetByID(ctx, userID)
	if err != nil || user.PushToken == nil || *user.PushToken == "" {
		return
	}

	notification := &apns2.Notification{
		DeviceToken: *user.PushToken,
		Topic:       p.topic,
		PushType:    apns2.PushTypeBackground,
		Priority:    apns2.PriorityLow,
		Expiration:  time.Now().Add(10 * time.Minute),
		Payload:     []byte(`{"aps":{"content-available":1},"reason":"sync_hint"}`),
	}

	res, err := p.client.PushWithContext(ctx, notification)
	if err != nil {
		log.Debug().Err(err).Str("user_id", userID).Msg("Sync hint push failed")
		return
	}
	if !res.Sent() {
		log.Debug().
			Str("user_id", userID).
			Int("status", res.StatusCode).
			Str("reason", res.Reason).
			Msg("Sync hint push rejected")
	}
}

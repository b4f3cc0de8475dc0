package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kmfinlay/tripwatch/internal/config"
)

// PushSender sends a push notification to a set of device tokens.
type PushSender interface {
	Send(ctx context.Context, tokens []string, title, body string, data map[string]string) error
}

// NewPushSender selects the concrete push channel for PUSH_BACKEND.
// config.Load already validated the backend name, so an unknown value here
// is a programming error, not a deferred runtime surprise.
func NewPushSender(cfg *config.Config, logger *slog.Logger) (PushSender, error) {
	switch cfg.PushBackend {
	case config.PushBackendLog:
		return &LogPushSender{logger: logger}, nil
	case config.PushBackendFCM:
		return NewFCMSender(cfg.FCMCredentialsFile, logger)
	default:
		return nil, fmt.Errorf("unknown push backend %q", cfg.PushBackend)
	}
}

// --------------------------------------------------------------------------
// Log sender — development and tests
// --------------------------------------------------------------------------

// LogPushSender writes every send to the logger instead of a real channel.
type LogPushSender struct {
	logger *slog.Logger
}

func (s *LogPushSender) Send(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	if len(tokens) == 0 {
		return fmt.Errorf("no tokens to send to: %w", ErrPermanent)
	}
	s.logger.Info("push send (log backend)",
		"tokens", len(tokens), "title", title, "body", body)
	return nil
}

// --------------------------------------------------------------------------
// FCM sender
// --------------------------------------------------------------------------

// FCMSender sends push notifications via Firebase Cloud Messaging.
type FCMSender struct {
	credentialsFile string
	logger          *slog.Logger
	// TODO: add firebase.google.com/go/v4/messaging.Client once the FCM
	// dependency lands; Send then calls SendEachForMulticast.
}

// NewFCMSender creates an FCM sender from a service account credentials file.
func NewFCMSender(credentialsFile string, logger *slog.Logger) (*FCMSender, error) {
	if credentialsFile == "" {
		return nil, fmt.Errorf("FCM sender requires a credentials file")
	}
	return &FCMSender{
		credentialsFile: credentialsFile,
		logger:          logger,
	}, nil
}

// Send delivers a notification to multiple device tokens.
func (s *FCMSender) Send(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	if len(tokens) == 0 {
		return fmt.Errorf("no tokens to send to: %w", ErrPermanent)
	}

	s.logger.Info("FCM send",
		"tokens", len(tokens), "title", title, "body", body)
	return nil
}

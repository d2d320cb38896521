package push

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// messagingClient is the subset of *messaging.Client the adapter uses.
type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCM delivers notifications through Firebase Cloud Messaging.
type FCM struct {
	client messagingClient
	log    zerolog.Logger
}

// NewFCM initializes a Firebase app from a service-account credentials file
// and returns an FCM sender bound to its messaging client.
func NewFCM(ctx context.Context, credentialsFile, projectID string, log zerolog.Logger) (*FCM, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging client: %w", err)
	}

	log.Info().Str("project_id", projectID).Msg("fcm client initialized")
	return newFCM(client, log), nil
}

func newFCM(client messagingClient, log zerolog.Logger) *FCM {
	return &FCM{client: client, log: log.With().Str("component", "push").Logger()}
}

func webpush(n Notification) *messaging.WebpushConfig {
	return &messaging.WebpushConfig{
		Notification: &messaging.WebpushNotification{
			Title: n.Title,
			Body:  n.Body,
		},
	}
}

// SendToToken sends n to a single device token.
func (f *FCM) SendToToken(ctx context.Context, token string, n Notification) error {
	msg := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data:    n.Data,
		Webpush: webpush(n),
	}

	id, err := f.client.Send(ctx, msg)
	if err != nil {
		observe(outcomeFailed, 1)
		f.log.Warn().Err(err).Str("token", redactToken(token)).Msg("fcm send failed")
		return fmt.Errorf("fcm send: %w", err)
	}

	observe(outcomeSent, 1)
	f.log.Debug().Str("message_id", id).Msg("fcm message sent")
	return nil
}

// maxMulticastTokens is the provider's limit per multicast request.
const maxMulticastTokens = 500

// staleToken reports whether a per-token error means the token will never
// work again. Quota and availability errors do not qualify.
var staleToken = func(err error) bool {
	return messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err) || messaging.IsSenderIDMismatch(err)
}

// SendToTokens multicasts n in batches of at most 500 tokens. A failed batch
// does not stop the remaining ones; its error is returned alongside the
// merged result of the others.
func (f *FCM) SendToTokens(ctx context.Context, tokens []string, n Notification) (MulticastResult, error) {
	var (
		res  MulticastResult
		errs []error
	)
	for start := 0; start < len(tokens); start += maxMulticastTokens {
		batch := tokens[start:min(start+maxMulticastTokens, len(tokens))]
		if err := f.multicast(ctx, batch, n, &res); err != nil {
			errs = append(errs, err)
		}
	}
	if len(tokens) > 0 {
		f.log.Info().
			Int("success", res.Sent).
			Int("failure", res.Failed).
			Int("stale", len(res.Stale)).
			Msg("fcm multicast sent")
	}
	return res, errors.Join(errs...)
}

func (f *FCM) multicast(ctx context.Context, batch []string, n Notification, res *MulticastResult) error {
	msg := &messaging.MulticastMessage{
		Tokens: batch,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data:    n.Data,
		Webpush: webpush(n),
	}

	resp, err := f.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		res.Failed += len(batch)
		observe(outcomeFailed, len(batch))
		f.log.Warn().Err(err).Int("tokens", len(batch)).Msg("fcm multicast failed")
		return fmt.Errorf("fcm multicast: %w", err)
	}

	failed := 0
	for i, r := range resp.Responses {
		if i >= len(batch) || r.Success {
			continue
		}
		failed++
		if staleToken(r.Error) {
			res.Stale = append(res.Stale, batch[i])
		}
		f.log.Warn().Err(r.Error).Str("token", redactToken(batch[i])).Msg("fcm multicast token rejected")
	}
	res.Sent += resp.SuccessCount
	res.Failed += failed
	observe(outcomeSent, resp.SuccessCount)
	observe(outcomeFailed, failed)
	return nil
}

// redactToken keeps device tokens out of logs.
func redactToken(t string) string {
	if len(t) <= 8 {
		return "***"
	}
	return t[:8] + "..."
}

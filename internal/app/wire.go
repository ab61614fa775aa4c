package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	s3blob "github.com/whlin/quantpipe/internal/blob/s3"
	"github.com/whlin/quantpipe/internal/config"
	"github.com/whlin/quantpipe/internal/crypto"
	"github.com/whlin/quantpipe/internal/domain"
	"github.com/whlin/quantpipe/internal/notify"
	"github.com/whlin/quantpipe/internal/platform/binance"
	"github.com/whlin/quantpipe/internal/store/csvstore"
)

// publicBroker builds an unauthenticated client, enough for market data.
func (a *App) publicBroker() *binance.Client {
	return binance.NewClient(a.brokerConfig(), binance.Credentials{}, a.logger)
}

// signedBroker builds a client with credentials resolved from the
// environment or the encrypted secret file. Trading commands fail fast here
// when no credential source is configured.
func (a *App) signedBroker() (*binance.Client, error) {
	creds := config.LoadCredentials()
	if creds.APIKey == "" {
		return nil, errors.New("app: BINANCE_TESTNET_API_KEY is not set")
	}
	if creds.APISecret == "" {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			EncryptedPath: a.cfg.Broker.EncryptedSecretPath,
			Password:      a.cfg.Broker.SecretPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("app: resolve API secret: %w", err)
		}
		creds.APISecret = secret
	}
	return binance.NewClient(a.brokerConfig(), binance.Credentials{
		APIKey:    creds.APIKey,
		APISecret: creds.APISecret,
	}, a.logger), nil
}

func (a *App) brokerConfig() binance.Config {
	return binance.Config{
		BaseURL:      a.cfg.Broker.BaseURL,
		RecvWindowMS: a.cfg.Broker.RecvWindowMS,
		Timeout:      time.Duration(a.cfg.Broker.TimeoutSeconds) * time.Second,
	}
}

// notifier builds the configured chat channels; nil senders when none are
// configured means every Notify call is a no-op.
func (a *App) notifier() *notify.Notifier {
	var senders []notify.Sender
	if a.cfg.Notify.TelegramToken != "" && a.cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(a.cfg.Notify.TelegramToken, a.cfg.Notify.TelegramChatID))
	}
	if a.cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(a.cfg.Notify.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, a.cfg.Notify.Events, a.logger)
}

// eventLog builds the append-only CSV audit log, teed through the notifier.
func (a *App) eventLog() domain.EventLog {
	return notify.NewEventTee(csvstore.NewEventLog(a.eventsPath()), a.notifier())
}

// archiver builds the S3 artifact archiver, or nil when archival is
// disabled.
func (a *App) archiver(ctx context.Context) (*s3blob.Archiver, error) {
	if !a.cfg.S3.Enabled {
		return nil, nil
	}
	client, err := s3blob.New(ctx, s3blob.ClientConfig{
		Endpoint:       a.cfg.S3.Endpoint,
		Region:         a.cfg.S3.Region,
		Bucket:         a.cfg.S3.Bucket,
		AccessKey:      a.cfg.S3.AccessKey,
		SecretKey:      a.cfg.S3.SecretKey,
		UseSSL:         a.cfg.S3.UseSSL,
		ForcePathStyle: a.cfg.S3.ForcePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("app: s3 client: %w", err)
	}
	return s3blob.NewArchiver(s3blob.NewWriter(client), a.cfg.S3.Prefix, a.logger), nil
}

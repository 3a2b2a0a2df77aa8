// Package broker holds the order destinations of the live loop. The variant
// is picked once from live.broker and never switched at runtime.
package broker

import (
	"fmt"
	"os"

	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
	"FinAlloc/pkg/config"
	pkgkafka "FinAlloc/pkg/kafka"
	applogger "FinAlloc/pkg/logger"
)

// New builds the configured broker. The gateway runs dry when its
// credentials are missing from the environment or no producer is available.
func New(cfg *config.Config, producer *pkgkafka.Producer, log *applogger.Logger) (domrepo.Broker, error) {
	switch cfg.Live.Broker {
	case "", "paper":
		return NewPaper(cfg.Live.PaperStartCash), nil
	case "gateway":
		gw := cfg.Live.Gateway
		dry := os.Getenv(gw.KeyEnv) == "" || os.Getenv(gw.SecretEnv) == ""
		var sender Sender
		if producer != nil {
			sender = producer
		}
		return NewGateway(sender, GatewayConfig{
			OrdersTopic:      cfg.Kafka.Topics.Orders,
			AccountTopic:     cfg.Kafka.Topics.Account,
			MaxParticipation: gw.MaxParticipation,
			AccountWait:      gw.AccountWait,
			Dry:              dry,
		}, log), nil
	default:
		return nil, fmt.Errorf("unknown broker %q: %w", cfg.Live.Broker, models.ErrConfiguration)
	}
}

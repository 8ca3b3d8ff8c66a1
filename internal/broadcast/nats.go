package broadcast

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/micutio/airfuse/internal/throttle"
)

const (
	natsClientName    = "airfuse"
	natsReconnectWait = 2 * time.Second
	natsTimeout       = 5 * time.Second
)

// Publisher publishes raw messages on a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes every drained batch as JSON on <prefix>.<class>.
type NATSPublisher struct {
	pub       Publisher
	prefix    string
	logger    zerolog.Logger
	freshness *freshness
}

// NewNATSPublisher creates a consumer publishing via pub.
func NewNATSPublisher(pub Publisher, prefix string, logger zerolog.Logger) *NATSPublisher {
	return &NATSPublisher{
		pub:       pub,
		prefix:    prefix,
		logger:    logger,
		freshness: newFreshness(),
	}
}

// Subject returns the subject batches of class are published on.
func (n *NATSPublisher) Subject(class throttle.Class) string {
	return n.prefix + "." + class.String()
}

// OnBatch publishes a drained batch.
func (n *NATSPublisher) OnBatch(class throttle.Class, entries []throttle.Entry) error {
	fresh := n.freshness.filter(entries)
	if len(fresh) == 0 {
		return nil
	}

	data, err := json.Marshal(newBatchMessage(class, fresh, time.Now()))
	if err != nil {
		return fmt.Errorf("natsPublisher: marshal batch: %w", err)
	}

	subject := n.Subject(class)
	if err := n.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("natsPublisher: publish to %s: %w", subject, err)
	}

	n.logger.Debug().Str("subject", subject).Int("entries", len(fresh)).Msg("batch published")
	return nil
}

// ConnectNATS connects to the NATS server at url, reconnecting forever.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(natsClientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(natsReconnectWait),
		nats.Timeout(natsTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connectNATS: %s: %w", url, err)
	}
	return conn, nil
}

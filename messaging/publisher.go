package messaging

import (
	"context"
	"fmt"

	"phonesim/config"

	"github.com/sirupsen/logrus"
)

// Publisher delivers encoded messages to a broker topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	IsConnected() bool
	Close() error
}

// NewPublisher connects the publisher selected by cfg.Transport. The "none"
// transport returns a nil Publisher and no error; callers then leave
// messages in the outbox.
func NewPublisher(cfg *config.MessagingConfig, log logrus.FieldLogger) (Publisher, error) {
	switch cfg.Transport {
	case "", "none":
		return nil, nil
	case "kafka":
		p := NewKafkaPublisher(cfg, log)
		if err := p.Connect(); err != nil {
			return nil, err
		}
		return p, nil
	case "mqtt":
		p := NewMQTTPublisher(&cfg.MQTT, log)
		if err := p.Connect(); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown messaging transport %q", cfg.Transport)
	}
}

package collaborator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/OpenPathLab/lims/internal/config"
)

// Metadata keys set on every published mail message.
const (
	MetadataMessageType = "message_type"
	MessageTypeMail     = "mail"
)

// NewPublisher builds the watermill publisher selected by cfg.Driver.
func NewPublisher(cfg config.MessagingConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	switch cfg.Driver {
	case "gochannel":
		return gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            1000,
				Persistent:                     false,
				BlockPublishUntilSubscriberAck: false,
			},
			logger,
		), nil

	case "kafka":
		saramaPublisherConfig := sarama.NewConfig()
		saramaPublisherConfig.Producer.Return.Successes = true
		publisher, err := kafka.NewPublisher(
			kafka.PublisherConfig{
				Brokers:               cfg.KafkaBrokers,
				Marshaler:             kafka.DefaultMarshaler{},
				OverwriteSaramaConfig: saramaPublisherConfig,
			},
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		return publisher, nil
	}

	return nil, fmt.Errorf("unsupported messaging driver: %s", cfg.Driver)
}

// BusMailer hands mail to a downstream mail relay by publishing it on a topic.
type BusMailer struct {
	publisher message.Publisher
	topic     string
}

// NewBusMailer creates a new BusMailer.
func NewBusMailer(publisher message.Publisher, topic string) *BusMailer {
	return &BusMailer{publisher: publisher, topic: topic}
}

func (m *BusMailer) Send(ctx context.Context, mail MailData) error {
	if len(mail.To) == 0 {
		return fmt.Errorf("mail has no recipients")
	}

	payload, err := json.Marshal(mail)
	if err != nil {
		return fmt.Errorf("failed to marshal mail: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetadataMessageType, MessageTypeMail)

	if err := m.publisher.Publish(m.topic, msg); err != nil {
		return fmt.Errorf("failed to publish mail: %w", err)
	}

	slog.InfoContext(ctx, "mail queued", "topic", m.topic, "subject", mail.Subject, "recipients", len(mail.To))
	return nil
}

// Package notify hands OTP codes to the delivery workers that own the SMS
// and email providers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"merchant-verification/internal/model"
	"merchant-verification/internal/util"
)

// Producer is satisfied by client.KafkaProducer.
type Producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// DispatchMessage is the payload consumed by the delivery workers. The code
// is in clear because the worker has to render it; the topic is ACL-restricted.
type DispatchMessage struct {
	Channel     model.Channel `json:"channel"`
	Destination string        `json:"destination"`
	Code        string        `json:"code"`
	Template    string        `json:"template"`
	RequestedAt time.Time     `json:"requested_at"`
}

type KafkaSender struct {
	producer Producer
	topic    string
}

func NewKafkaSender(producer Producer, topic string) *KafkaSender {
	return &KafkaSender{producer: producer, topic: topic}
}

func (s *KafkaSender) Send(ctx context.Context, channel model.Channel, destination, code string) error {
	value, err := json.Marshal(DispatchMessage{
		Channel:     channel,
		Destination: destination,
		Code:        code,
		Template:    "merchant_contact_verification",
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode dispatch message: %w", err)
	}

	headers := map[string]string{"channel": string(channel)}
	if err := s.producer.ProduceMessage(ctx, s.topic, []byte(destination), value, headers); err != nil {
		return fmt.Errorf("failed to dispatch %s code: %w", channel, err)
	}
	return nil
}

// LoggingSender is the development sender: the code goes to the log only.
type LoggingSender struct{}

func (LoggingSender) Send(_ context.Context, channel model.Channel, destination, code string) error {
	util.Info("Verification code (development delivery)",
		zap.String("channel", string(channel)),
		util.Identifier("destination", destination),
		zap.String("code", code))
	return nil
}

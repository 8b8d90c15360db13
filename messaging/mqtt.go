package messaging

import (
	"context"
	"fmt"
	"time"

	"phonesim/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const mqttTimeout = 5 * time.Second

type MQTTPublisher struct {
	cfg    *config.MQTTConfig
	client mqtt.Client
	log    logrus.FieldLogger
}

func NewMQTTPublisher(cfg *config.MQTTConfig, log logrus.FieldLogger) *MQTTPublisher {
	return &MQTTPublisher{cfg: cfg, log: log}
}

func (p *MQTTPublisher) Connect() error {
	if p.cfg.Broker == "" {
		return fmt.Errorf("no mqtt broker configured")
	}
	opts := mqtt.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(p.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			p.log.Warnf("messaging: mqtt connection lost: %v", err)
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			p.log.Infof("messaging: mqtt connected to %s", p.cfg.Broker)
		})

	p.client = mqtt.NewClient(opts)
	tok := p.client.Connect()
	if !tok.WaitTimeout(mqttTimeout) {
		return fmt.Errorf("mqtt connect: timed out after %s", mqttTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	tok := p.client.Publish(topic, p.cfg.QoS, false, payload)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *MQTTPublisher) IsConnected() bool {
	return p.client != nil && p.client.IsConnected()
}

func (p *MQTTPublisher) Close() error {
	if p.client != nil {
		p.client.Disconnect(250)
	}
	return nil
}

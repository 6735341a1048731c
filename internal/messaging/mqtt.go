package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/ModbusMonitor/internal/config"
	"github.com/KevinKickass/ModbusMonitor/internal/types"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var ErrPublishTimeout = errors.New("mqtt publish timed out")

type Options struct {
	TopicPrefix    string
	QoS            byte
	Retain         bool
	PublishTimeout time.Duration
}

// Publisher forwards passes and monitoring transitions to an MQTT broker.
type Publisher struct {
	client mqtt.Client
	opts   Options
	logger *zap.Logger
}

// NewClient builds an auto-reconnecting paho client from config.
func NewClient(cfg config.MQTTConfig, logger *zap.Logger) mqtt.Client {
	opts := mqtt.NewClientOptions().AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("MQTT connected", zap.String("broker", cfg.BrokerURL))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})
	return mqtt.NewClient(opts)
}

func NewPublisher(client mqtt.Client, opts Options, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	opts.TopicPrefix = strings.TrimSuffix(opts.TopicPrefix, "/")

	return &Publisher{
		client: client,
		opts:   opts,
		logger: logger.Named("mqtt"),
	}
}

func NewPublisherFromConfig(cfg config.MQTTConfig, logger *zap.Logger) *Publisher {
	return NewPublisher(NewClient(cfg, logger), Options{
		TopicPrefix:    cfg.TopicPrefix,
		QoS:            cfg.QoS,
		Retain:         cfg.Retain,
		PublishTimeout: cfg.PublishTimeout,
	}, logger)
}

func (p *Publisher) Connect(ctx context.Context) error {
	return p.wait(ctx, p.client.Connect(), "connect")
}

// Close disconnects, giving in-flight messages a quarter second.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

func (p *Publisher) topic(device, leaf string) string {
	if p.opts.TopicPrefix == "" {
		return device + "/" + leaf
	}
	return p.opts.TopicPrefix + "/" + device + "/" + leaf
}

func (p *Publisher) LatestTopic(device string) string {
	return p.topic(device, "latest")
}

func (p *Publisher) MonitoringTopic(device string) string {
	return p.topic(device, "monitoring")
}

// Publish sends the pass as JSON to <prefix>/<device>/latest.
func (p *Publisher) Publish(ctx context.Context, pass types.PassResult) error {
	payload, err := json.Marshal(pass)
	if err != nil {
		return fmt.Errorf("failed to marshal pass: %w", err)
	}

	topic := p.LatestTopic(pass.DeviceID)
	token := p.client.Publish(topic, p.opts.QoS, p.opts.Retain, payload)
	return p.wait(ctx, token, "publish "+topic)
}

type monitoringMessage struct {
	Device    string                `json:"device"`
	State     types.MonitoringState `json:"state"`
	Error     string                `json:"error,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// MonitoringChanged publishes the transition retained, so late subscribers
// see the current state.
func (p *Publisher) MonitoringChanged(device string, state types.MonitoringState, cause error) {
	msg := monitoringMessage{Device: device, State: state, Timestamp: time.Now()}
	if cause != nil {
		msg.Error = cause.Error()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("Failed to marshal monitoring state", zap.Error(err))
		return
	}

	topic := p.MonitoringTopic(device)
	token := p.client.Publish(topic, p.opts.QoS, true, payload)
	if err := p.wait(context.Background(), token, "publish "+topic); err != nil {
		p.logger.Warn("Failed to publish monitoring state", zap.String("device", device), zap.Error(err))
	}
}

func (p *Publisher) wait(ctx context.Context, token mqtt.Token, what string) error {
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt %s: %w", what, ctx.Err())
	case <-time.After(p.opts.PublishTimeout):
		return fmt.Errorf("mqtt %s: %w", what, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt %s: %w", what, err)
	}
	return nil
}

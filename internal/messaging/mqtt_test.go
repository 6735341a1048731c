package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/ModbusMonitor/internal/types"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap/zaptest"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient implements the parts of mqtt.Client the publisher uses.
type fakeClient struct {
	mqtt.Client

	mu         sync.Mutex
	messages   []published
	publishErr error
	hang       bool
	connected  bool
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return completedToken(nil)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hang {
		return &fakeToken{done: make(chan struct{})}
	}
	c.messages = append(c.messages, published{topic, qos, retained, payload.([]byte)})
	return completedToken(c.publishErr)
}

func TestPublisher_Publish(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, Options{TopicPrefix: "plant/", QoS: 1, Retain: true}, zaptest.NewLogger(t))

	if err := p.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	spec := types.RegisterSpec{Kind: types.RegisterHolding, Address: 1, Count: 2}
	pass := types.PassResult{
		DeviceID:  "press",
		Timestamp: time.Now(),
		Readings:  []types.RegisterReading{types.NewReading(spec, []uint16{1, 2}, time.Now())},
	}
	if err := p.Publish(context.Background(), pass); err != nil {
		t.Fatalf("Publish() err=%v", err)
	}

	if len(client.messages) != 1 {
		t.Fatalf("messages=%d", len(client.messages))
	}
	msg := client.messages[0]
	if msg.topic != "plant/press/latest" || msg.qos != 1 || !msg.retained {
		t.Fatalf("msg=%+v", msg)
	}
	var decoded types.PassResult
	if err := json.Unmarshal(msg.payload, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.DeviceID != "press" || decoded.Readings[0].Values[1] != 2 {
		t.Fatalf("decoded=%+v", decoded)
	}

	p.Close()
	if client.connected {
		t.Fatal("Close() did not disconnect")
	}
}

func TestPublisher_Errors(t *testing.T) {
	client := &fakeClient{publishErr: errors.New("not connected")}
	p := NewPublisher(client, Options{PublishTimeout: 20 * time.Millisecond}, zaptest.NewLogger(t))

	pass := types.PassResult{DeviceID: "press", Timestamp: time.Now()}
	if err := p.Publish(context.Background(), pass); err == nil {
		t.Fatal("expected broker error")
	}

	client.publishErr = nil
	client.hang = true
	if err := p.Publish(context.Background(), pass); !errors.Is(err, ErrPublishTimeout) {
		t.Fatalf("err=%v want ErrPublishTimeout", err)
	}
}

func TestPublisher_MonitoringChanged(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, Options{TopicPrefix: "modbus", QoS: 0}, zaptest.NewLogger(t))

	p.MonitoringChanged("press", types.MonitoringStopped, errors.New("monitoring aborted"))

	if len(client.messages) != 1 {
		t.Fatalf("messages=%d", len(client.messages))
	}
	msg := client.messages[0]
	if msg.topic != "modbus/press/monitoring" || !msg.retained {
		t.Fatalf("msg=%+v", msg)
	}
	var body map[string]any
	if err := json.Unmarshal(msg.payload, &body); err != nil {
		t.Fatal(err)
	}
	if body["state"] != "stopped" || body["error"] != "monitoring aborted" {
		t.Fatalf("body=%v", body)
	}
}

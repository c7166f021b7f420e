// Package simulator publishes synthetic greenhouse readings to an MQTT broker
// so the logger can be exercised without the controller hardware.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/DroneTales/GreenHouse/internal/config"
	"github.com/DroneTales/GreenHouse/shared/topics"
	"github.com/DroneTales/GreenHouse/shared/types"
)

var ErrStopped = errors.New("publisher stopped")

type Publisher struct {
	client    mqtt.Client
	qos       byte
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewPublisher(cfg config.Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		qos:    cfg.MQTTQoS,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(fmt.Sprintf("%s-sim-%s", cfg.MQTTClientID, uuid.NewString()[:8]))
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(cfg.MQTTRetryInterval)
	opts.SetMaxReconnectInterval(cfg.MQTTMaxReconnectInterval)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		p.setConnected(true)
		logger.Info("simulator connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.setConnected(false)
		logger.Warn("simulator connection lost", "error", err)
	})

	p.client = mqtt.NewClient(opts)
	return p
}

// Connect waits for the first connection, ctx or Disconnect, whichever comes first.
func (p *Publisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return ErrStopped
	default:
	}
	if p.IsConnected() {
		return nil
	}

	token := p.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return ErrStopped
		default:
		}
	}
}

// Publish sends value to topic as a plain decimal payload.
func (p *Publisher) Publish(topic string, value float64) error {
	if !p.IsConnected() {
		return errors.New("mqtt client not connected")
	}

	payload := strconv.FormatFloat(value, 'f', -1, 64)
	token := p.client.Publish(topic, p.qos, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	p.logger.Debug("published reading", "topic", topic, "payload", payload)
	return nil
}

func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	return connected && p.client.IsConnected()
}

// Disconnect is idempotent. After it, Connect returns ErrStopped.
func (p *Publisher) Disconnect() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.client.Disconnect(250)
	p.setConnected(false)
	p.logger.Info("simulator disconnected")
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

// Message is one topic/value pair produced by a Generator.
type Message struct {
	Topic string
	Value float64
}

// Generator produces plausible readings that drift a little on every tick.
type Generator struct {
	mapper *topics.Mapper
	rnd    *rand.Rand

	capacity float64
	zones    []float64
}

func NewGenerator(mapper *topics.Mapper, seed uint64) *Generator {
	g := &Generator{
		mapper:   mapper,
		rnd:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		capacity: 100,
		zones:    make([]float64, mapper.ZoneCount()),
	}
	for i := range g.zones {
		g.zones[i] = 20 + g.rnd.Float64()*5
	}
	return g
}

// Next returns one message per kind the mapper knows, fixed topics first.
func (g *Generator) Next() []Message {
	g.capacity -= g.rnd.Float64() * 0.5
	if g.capacity < 5 {
		g.capacity = 100
	}
	voltage := 3.3 + 0.9*g.capacity/100

	var sum float64
	for i := range g.zones {
		g.zones[i] += g.rnd.NormFloat64() * 0.2
		sum += g.zones[i]
	}
	avg := 0.0
	if len(g.zones) > 0 {
		avg = sum / float64(len(g.zones))
	}

	out := []Message{
		g.message(types.KindAverageTemperature, round(avg, 2)),
		g.message(types.KindBatteryCapacity, round(g.capacity, 0)),
		g.message(types.KindBatteryVoltage, round(voltage, 3)),
		g.message(types.KindAdjustedVoltage, round(voltage-0.05, 3)),
	}
	for i, v := range g.zones {
		out = append(out, g.message(types.ZoneTemperature(i), round(v, 2)))
	}
	return out
}

func (g *Generator) message(k types.Kind, v float64) Message {
	topic, _ := g.mapper.Topic(k)
	return Message{Topic: topic, Value: v}
}

func round(v float64, places int) float64 {
	s := strconv.FormatFloat(v, 'f', places, 64)
	r, _ := strconv.ParseFloat(s, 64)
	return r
}

// Run publishes a batch from gen every interval until ctx is done. Failed
// publishes are logged and the loop continues.
func Run(ctx context.Context, pub *Publisher, gen *Generator, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, m := range gen.Next() {
			if err := pub.Publish(m.Topic, m.Value); err != nil {
				logger.Warn("simulator publish failed", "topic", m.Topic, "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

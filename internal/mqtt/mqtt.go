package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/DroneTales/GreenHouse/internal/config"
	"github.com/DroneTales/GreenHouse/shared/topics"
	"github.com/DroneTales/GreenHouse/shared/types"
)

var ErrStopped = errors.New("subscriber stopped")

// State is the lifecycle position of a Subscriber.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stats counts what happened to inbound messages since the subscriber was created.
type Stats struct {
	Received       uint64 `json:"received"`
	Stored         uint64 `json:"stored"`
	Unmapped       uint64 `json:"unmapped"`
	DecodeFailures uint64 `json:"decode_failures"`
	StoreFailures  uint64 `json:"store_failures"`
}

// MQTTSubscriber is what feature modules need to attach their ingest handler.
type MQTTSubscriber interface {
	SetMessageHandler(handler func(reading types.Reading) error)
}

type Subscriber struct {
	client mqtt.Client
	cfg    config.Config
	mapper *topics.Mapper
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	state   State
	changed chan struct{}
	started bool
	handler func(reading types.Reading) error

	// handleMu is held for the whole of one message; Disconnect takes it to
	// wait out the message in flight.
	handleMu sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once

	received       atomic.Uint64
	stored         atomic.Uint64
	unmapped       atomic.Uint64
	decodeFailures atomic.Uint64
	storeFailures  atomic.Uint64
}

// SetMessageHandler sets the function every valid reading is passed to. It
// runs synchronously on the delivery goroutine, one message at a time.
func (s *Subscriber) SetMessageHandler(handler func(reading types.Reading) error) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

func NewSubscriber(cfg config.Config, mapper *topics.Mapper, logger *slog.Logger) (*Subscriber, error) {
	if mapper == nil {
		return nil, errors.New("mqtt: nil topic mapper")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Subscriber{
		cfg:     cfg,
		mapper:  mapper,
		logger:  logger,
		now:     time.Now,
		state:   StateDisconnected,
		changed: make(chan struct{}),
		stopCh:  make(chan struct{}),
	}

	// Suffix keeps two logger instances from kicking each other off the broker.
	clientID := fmt.Sprintf("%s-%s", cfg.MQTTClientID, uuid.NewString()[:8])

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(clientID)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}

	// Session settings
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(cfg.MQTTRetryInterval)
	opts.SetMaxReconnectInterval(cfg.MQTTMaxReconnectInterval)
	opts.SetConnectTimeout(cfg.MQTTConnectTimeout)
	opts.SetWriteTimeout(cfg.MQTTConnectTimeout)

	// Keepalive / timeouts
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// paho runs OnConnect in its own goroutine, so subscribing here is safe and
	// also covers every automatic reconnect.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort, "client_id", clientID)
		s.subscribeLoop(c)
	})

	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		s.setState(StateConnecting)
		logger.Info("mqtt reconnecting", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.setState(StateConnecting)
		logger.Warn("mqtt connection lost", "error", err)
	})

	s.client = mqtt.NewClient(opts)
	return s, nil
}

// Connect starts the session and waits until every topic is subscribed or ctx
// is done. Returning on ctx does not cancel the session: the client keeps
// retrying in the background until Disconnect.
func (s *Subscriber) Connect(ctx context.Context) error {
	// Fail fast if already stopped.
	select {
	case <-s.stopCh:
		return ErrStopped
	default:
	}

	s.mu.Lock()
	if !s.started {
		s.started = true
		s.setStateLocked(StateConnecting)
		token := s.client.Connect()
		go func() {
			token.Wait()
			if err := token.Error(); err != nil {
				s.logger.Error("mqtt connect", "error", err)
			}
		}()
	}
	s.mu.Unlock()

	if err := s.waitState(ctx, StateSubscribed); err != nil {
		if errors.Is(err, ErrStopped) {
			return err
		}
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (s *Subscriber) subscribeLoop(c mqtt.Client) {
	for {
		err := s.subscribe(c)
		if err == nil {
			s.setState(StateSubscribed)
			return
		}
		s.logger.Error("mqtt subscribe failed", "error", err)

		select {
		case <-s.stopCh:
			return
		case <-time.After(s.cfg.MQTTRetryInterval):
		}
		if !c.IsConnectionOpen() {
			// The next OnConnect will subscribe again.
			return
		}
	}
}

func (s *Subscriber) subscribe(c mqtt.Client) error {
	filters := make(map[string]byte)
	for _, topic := range s.mapper.Topics() {
		filters[topic] = s.cfg.MQTTQoS
	}

	messageHandler := func(_ mqtt.Client, msg mqtt.Message) {
		s.handleMessage(msg.Topic(), msg.Payload())
	}

	token := c.SubscribeMultiple(filters, messageHandler)
	if !token.WaitTimeout(s.cfg.MQTTConnectTimeout) {
		return fmt.Errorf("subscribe timeout for %d topics", len(filters))
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	s.logger.Info("subscribed to mqtt topics", "count", len(filters), "qos", s.cfg.MQTTQoS)
	return nil
}

func (s *Subscriber) handleMessage(topic string, payload []byte) {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()

	select {
	case <-s.stopCh:
		return
	default:
	}

	arrival := s.now()
	s.received.Add(1)
	s.logger.Debug("received mqtt message", "topic", topic, "size", len(payload))

	kind, ok := s.mapper.Map(topic)
	if !ok {
		s.unmapped.Add(1)
		s.logger.Debug("ignoring unmapped topic", "topic", topic)
		return
	}

	value, err := types.ParseValue(payload)
	if err != nil {
		s.decodeFailures.Add(1)
		decodeErr := &types.DecodeError{Topic: topic, Payload: string(payload), Err: err}
		s.logger.Warn("failed to decode mqtt message",
			"topic", topic,
			"payload", decodeErr.Payload,
			"error", decodeErr,
		)
		return
	}

	reading := types.NewReading(arrival, kind, value)

	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler == nil {
		s.logger.Warn("no message handler set, dropping reading", "kind", reading.Kind)
		return
	}

	if err := handler(reading); err != nil {
		s.storeFailures.Add(1)
		s.logger.Error("message handler failed",
			"topic", topic,
			"kind", reading.Kind,
			"error", err,
		)
		return
	}
	s.stored.Add(1)
	s.logger.Debug("processed mqtt message", "kind", reading.Kind, "value", reading.Value)
}

// IsConnected reports whether the session is subscribed on a live connection.
func (s *Subscriber) IsConnected() bool {
	return s.State() == StateSubscribed && s.client.IsConnected()
}

func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscriber) Stats() Stats {
	return Stats{
		Received:       s.received.Load(),
		Stored:         s.stored.Load(),
		Unmapped:       s.unmapped.Load(),
		DecodeFailures: s.decodeFailures.Load(),
		StoreFailures:  s.storeFailures.Load(),
	}
}

// Disconnect stops the subscriber and closes the MQTT connection. When it
// returns no handler call is running and none will start.
// Idempotent and safe to call multiple times.
func (s *Subscriber) Disconnect() {
	stopping := false
	s.stopOnce.Do(func() {
		close(s.stopCh)
		stopping = true
	})
	if !stopping {
		return
	}

	// Clean session: the broker drops the subscriptions with the connection.
	s.client.Disconnect(250)

	// Wait for the message in flight, if any.
	s.handleMu.Lock()
	s.setState(StateStopped)
	s.handleMu.Unlock()

	s.logger.Info("mqtt subscriber disconnected", "stats", s.Stats())
}

func (s *Subscriber) setState(st State) {
	s.mu.Lock()
	s.setStateLocked(st)
	s.mu.Unlock()
}

// setStateLocked must be called with s.mu held. Stopped is terminal.
func (s *Subscriber) setStateLocked(st State) {
	if s.state == StateStopped || s.state == st {
		return
	}
	if st != StateStopped {
		select {
		case <-s.stopCh:
			return
		default:
		}
	}
	s.state = st
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Subscriber) waitState(ctx context.Context, want State) error {
	for {
		s.mu.Lock()
		st, changed := s.state, s.changed
		s.mu.Unlock()

		if st == want {
			return nil
		}
		if st == StateStopped {
			return ErrStopped
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return ErrStopped
		case <-changed:
		}
	}
}

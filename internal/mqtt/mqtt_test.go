package mqtt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	mqttbroker "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/DroneTales/GreenHouse/internal/config"
	"github.com/DroneTales/GreenHouse/shared/topics"
	"github.com/DroneTales/GreenHouse/shared/types"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	if err := l.Close(); err != nil {
		t.Fatalf("close listener: %v", err)
	}
	return addr
}

func startBroker(t *testing.T, addr string) *mqttbroker.Server {
	t.Helper()
	server := mqttbroker.New(&mqttbroker.Options{
		InlineClient: true,
		Logger:       discard,
	})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("add hook: %v", err)
	}
	tcp := listeners.NewTCP(listeners.Config{ID: "tcp", Address: addr})
	if err := server.AddListener(tcp); err != nil {
		t.Fatalf("add listener: %v", err)
	}
	go func() {
		if err := server.Serve(); err != nil {
			t.Logf("broker serve: %v", err)
		}
	}()
	return server
}

func testConfig(t *testing.T, addr string) config.Config {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("port %q: %v", portStr, err)
	}
	return config.Config{
		MQTTBroker:               host,
		MQTTPort:                 port,
		MQTTClientID:             "greenhouse-test",
		MQTTQoS:                  1,
		MQTTConnectTimeout:       2 * time.Second,
		MQTTRetryInterval:        100 * time.Millisecond,
		MQTTMaxReconnectInterval: 500 * time.Millisecond,
	}
}

type collector struct {
	mu       sync.Mutex
	readings []types.Reading
	ch       chan types.Reading
}

func newCollector() *collector {
	return &collector{ch: make(chan types.Reading, 128)}
}

func (c *collector) handle(r types.Reading) error {
	c.mu.Lock()
	c.readings = append(c.readings, r)
	c.mu.Unlock()
	c.ch <- r
	return nil
}

func (c *collector) next(t *testing.T) types.Reading {
	t.Helper()
	select {
	case r := <-c.ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reading")
		return types.Reading{}
	}
}

func connectedSubscriber(t *testing.T, cfg config.Config, handler func(types.Reading) error) *Subscriber {
	t.Helper()
	s, err := NewSubscriber(cfg, topics.NewMapper("", types.DefaultZoneCount), discard)
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	s.SetMessageHandler(handler)
	t.Cleanup(s.Disconnect)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return s
}

// waitStats polls until ok accepts the counters. They are bumped after the
// handler returns, so they can lag the reading the test just received.
func waitStats(t *testing.T, s *Subscriber, ok func(Stats) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		st := s.Stats()
		if ok(st) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("stats = %+v, never reached the expected counts", st)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func publish(t *testing.T, server *mqttbroker.Server, topic, payload string) {
	t.Helper()
	if err := server.Publish(topic, []byte(payload), false, 1); err != nil {
		t.Fatalf("publish %s: %v", topic, err)
	}
}

func TestNewSubscriber_NilMapper(t *testing.T) {
	if _, err := NewSubscriber(config.Config{}, nil, discard); err == nil {
		t.Fatal("NewSubscriber(nil mapper) error = nil")
	}
}

func TestSubscriber_StoresMappedReading(t *testing.T) {
	addr := freeAddr(t)
	server := startBroker(t, addr)
	t.Cleanup(func() { _ = server.Close() })

	c := newCollector()
	s := connectedSubscriber(t, testConfig(t, addr), c.handle)
	if s.State() != StateSubscribed || !s.IsConnected() {
		t.Fatalf("state = %v, want subscribed", s.State())
	}

	before := time.Now().Add(-time.Millisecond)
	publish(t, server, "greenhouse/temperature", "23.5")
	got := c.next(t)

	if got.Kind != types.KindAverageTemperature || got.Value != 23.5 {
		t.Errorf("reading = %+v, want average temperature 23.5", got)
	}
	if got.Time.Before(before.Truncate(time.Millisecond)) || got.Time.After(time.Now()) {
		t.Errorf("reading time %v not stamped at arrival", got.Time)
	}
	waitStats(t, s, func(st Stats) bool { return st.Received == 1 && st.Stored == 1 })
}

func TestSubscriber_DropsBadPayloadAndKeepsGoing(t *testing.T) {
	addr := freeAddr(t)
	server := startBroker(t, addr)
	t.Cleanup(func() { _ = server.Close() })

	c := newCollector()
	s := connectedSubscriber(t, testConfig(t, addr), c.handle)

	publish(t, server, "greenhouse/battery", "not-a-number")
	publish(t, server, "greenhouse/battery", "80")

	got := c.next(t)
	if got.Kind != types.KindBatteryCapacity || got.Value != 80 {
		t.Errorf("reading = %+v, want battery capacity 80", got)
	}
	waitStats(t, s, func(st Stats) bool { return st.DecodeFailures == 1 && st.Stored == 1 })
}

func TestSubscriber_PreservesArrivalOrder(t *testing.T) {
	addr := freeAddr(t)
	server := startBroker(t, addr)
	t.Cleanup(func() { _ = server.Close() })

	c := newCollector()
	connectedSubscriber(t, testConfig(t, addr), c.handle)

	const n = 25
	for i := 0; i < n; i++ {
		publish(t, server, "greenhouse/sensors/2", strconv.Itoa(i))
	}
	for i := 0; i < n; i++ {
		got := c.next(t)
		if got.Kind != types.ZoneTemperature(2) || got.Value != float64(i) {
			t.Fatalf("reading %d = %+v, want zone 2 value %d", i, got, i)
		}
	}
}

func TestSubscriber_HandlerErrorDoesNotStopSession(t *testing.T) {
	addr := freeAddr(t)
	server := startBroker(t, addr)
	t.Cleanup(func() { _ = server.Close() })

	c := newCollector()
	var calls int
	s := connectedSubscriber(t, testConfig(t, addr), func(r types.Reading) error {
		calls++
		if calls == 1 {
			return errors.New("disk full")
		}
		return c.handle(r)
	})

	publish(t, server, "greenhouse/voltage/voltage", "4.1")
	publish(t, server, "greenhouse/voltage/adjusted", "3.9")

	got := c.next(t)
	if got.Kind != types.KindAdjustedVoltage {
		t.Errorf("reading = %+v, want adjusted voltage", got)
	}
	waitStats(t, s, func(st Stats) bool { return st.StoreFailures == 1 && st.Stored == 1 })
}

func TestSubscriber_BrokerUnavailableThenAvailable(t *testing.T) {
	addr := freeAddr(t)
	cfg := testConfig(t, addr)

	s, err := NewSubscriber(cfg, topics.NewMapper("", 4), discard)
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	defer s.Disconnect()
	c := newCollector()
	s.SetMessageHandler(c.handle)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	err = s.Connect(ctx)
	cancel()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Connect without broker error = %v, want deadline exceeded", err)
	}
	if s.State() != StateConnecting {
		t.Fatalf("state = %v, want connecting while retrying", s.State())
	}

	server := startBroker(t, addr)
	t.Cleanup(func() { _ = server.Close() })

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect after broker start: %v", err)
	}

	publish(t, server, "greenhouse/sensors/0", "18")
	if got := c.next(t); got.Kind != types.ZoneTemperature(0) {
		t.Errorf("reading = %+v, want zone 0", got)
	}
}

func TestSubscriber_ResubscribesAfterBrokerRestart(t *testing.T) {
	addr := freeAddr(t)
	server := startBroker(t, addr)

	c := newCollector()
	s := connectedSubscriber(t, testConfig(t, addr), c.handle)

	if err := server.Close(); err != nil {
		t.Fatalf("close broker: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for s.State() == StateSubscribed && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if s.State() != StateConnecting {
		t.Fatalf("state after broker loss = %v, want connecting", s.State())
	}

	server = startBroker(t, addr)
	t.Cleanup(func() { _ = server.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.waitState(ctx, StateSubscribed); err != nil {
		t.Fatalf("waiting for resubscribe: %v", err)
	}

	publish(t, server, "greenhouse/temperature", "21")
	if got := c.next(t); got.Value != 21 {
		t.Errorf("reading = %+v, want 21", got)
	}
}

func TestSubscriber_DisconnectIsIdempotentAndTerminal(t *testing.T) {
	addr := freeAddr(t)
	server := startBroker(t, addr)
	t.Cleanup(func() { _ = server.Close() })

	s := connectedSubscriber(t, testConfig(t, addr), newCollector().handle)

	s.Disconnect()
	s.Disconnect()

	if s.State() != StateStopped {
		t.Errorf("state = %v, want stopped", s.State())
	}
	if s.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}
	if err := s.Connect(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Connect after Disconnect error = %v, want ErrStopped", err)
	}
}

func TestSubscriber_DisconnectWaitsForInFlightMessage(t *testing.T) {
	addr := freeAddr(t)
	server := startBroker(t, addr)
	t.Cleanup(func() { _ = server.Close() })

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	s := connectedSubscriber(t, testConfig(t, addr), func(types.Reading) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	})

	publish(t, server, "greenhouse/temperature", "20")
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}

	done := make(chan struct{})
	go func() {
		s.Disconnect()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Disconnect returned while a message was still being stored")
	case <-time.After(400 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Disconnect did not return after the handler finished")
	}
	if st := s.Stats(); st.Stored != 1 {
		t.Errorf("stats = %+v, want the in-flight reading stored", st)
	}
}

func TestSubscriber_DisconnectIsBoundedWhenBrokerGoes(t *testing.T) {
	for _, closeFirst := range []bool{false, true} {
		t.Run(fmt.Sprintf("broker closed first=%v", closeFirst), func(t *testing.T) {
			addr := freeAddr(t)
			server := startBroker(t, addr)
			s := connectedSubscriber(t, testConfig(t, addr), newCollector().handle)

			closed := make(chan struct{})
			if closeFirst {
				_ = server.Close()
				close(closed)
			} else {
				// Close the broker while Disconnect is running.
				go func() {
					time.Sleep(5 * time.Millisecond)
					_ = server.Close()
					close(closed)
				}()
			}

			start := time.Now()
			s.Disconnect()
			took := time.Since(start)
			<-closed
			if took > 3*time.Second {
				t.Errorf("Disconnect took %v, want well under the write timeout", took)
			}
			if s.State() != StateStopped {
				t.Errorf("state = %v, want stopped", s.State())
			}
		})
	}
}

func TestHandleMessage_Unmapped(t *testing.T) {
	s, err := NewSubscriber(testConfig(t, "127.0.0.1:1"), topics.NewMapper("", 4), discard)
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	var called bool
	s.SetMessageHandler(func(types.Reading) error { called = true; return nil })

	s.handleMessage("greenhouse/battery/low", []byte("1"))
	s.handleMessage("foo/bar", []byte("1"))

	if called {
		t.Error("handler called for unmapped topic")
	}
	if st := s.Stats(); st.Received != 2 || st.Unmapped != 2 {
		t.Errorf("stats = %+v, want 2 received / 2 unmapped", st)
	}
}

func TestHandleMessage_UsesArrivalClock(t *testing.T) {
	s, err := NewSubscriber(testConfig(t, "127.0.0.1:1"), topics.NewMapper("", 4), discard)
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	fixed := time.Date(2025, 7, 1, 10, 0, 0, 987654321, time.UTC)
	s.now = func() time.Time { return fixed }

	var got types.Reading
	s.SetMessageHandler(func(r types.Reading) error { got = r; return nil })
	s.handleMessage("greenhouse/sensors/3", []byte(" 17.25\n"))

	if got.Kind != types.ZoneTemperature(3) || got.Value != 17.25 {
		t.Errorf("reading = %+v", got)
	}
	if !got.Time.Equal(fixed.Truncate(time.Millisecond)) {
		t.Errorf("time = %v, want %v", got.Time, fixed.Truncate(time.Millisecond))
	}
}

func TestState_String(t *testing.T) {
	for st, want := range map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateSubscribed:   "subscribed",
		StateStopped:      "stopped",
	} {
		if got := st.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int32(st), got, want)
		}
	}
}

package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel/securitygate/pkg/config"
	"github.com/sentinel/securitygate/pkg/id"
	"github.com/sentinel/securitygate/pkg/proto"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mutex      sync.Mutex
	exchanges  map[string]string
	queues     map[string]amqp.Table
	bindings   map[string]string
	prefetch   int
	published  []published
	publishErr error
	deliveries map[string]chan amqp.Delivery
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		exchanges:  map[string]string{},
		queues:     map[string]amqp.Table{},
		bindings:   map[string]string{},
		deliveries: map[string]chan amqp.Delivery{},
	}
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.exchanges[name] = kind
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.queues[name] = args
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	c.bindings[name] = exchange + "/" + key
	return nil
}

func (c *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	c.prefetch = prefetchCount
	return nil
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.publishErr != nil {
		return c.publishErr
	}

	c.published = append(c.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	ch, ok := c.deliveries[queue]
	if !ok {
		return nil, errors.New("no such queue")
	}
	return ch, nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

// fakeAcknowledger records what happened to each delivery tag
type fakeAcknowledger struct {
	mutex sync.Mutex
	acks  []uint64
	nacks map[uint64]bool
	done  chan struct{}
}

func newFakeAcknowledger() *fakeAcknowledger {
	return &fakeAcknowledger{nacks: map[uint64]bool{}, done: make(chan struct{}, 100)}
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mutex.Lock()
	a.acks = append(a.acks, tag)
	a.mutex.Unlock()
	a.done <- struct{}{}
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mutex.Lock()
	a.nacks[tag] = requeue
	a.mutex.Unlock()
	a.done <- struct{}{}
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) wait(t *testing.T, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		select {
		case <-a.done:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %d acks/nacks", n)
		}
	}
}

func testGateway(t *testing.T, mutate func(cfg *config.Broker)) (*Gateway, *fakeChannel) {
	t.Helper()

	cfg := config.DefaultConfig().Broker
	if mutate != nil {
		mutate(&cfg)
	}

	channel := newFakeChannel()
	channel.deliveries[cfg.RequestQueue] = make(chan amqp.Delivery, 10)
	channel.deliveries[cfg.ResultQueue] = make(chan amqp.Delivery, 10)

	gateway, err := NewGateway(cfg, channel)
	require.NoError(t, err)
	return gateway, channel
}

func TestNewGateway(t *testing.T) {
	t.Run("Topology", func(t *testing.T) {
		_, channel := testGateway(t, nil)

		assert.Equal(t, amqp.ExchangeTopic, channel.exchanges["sentinel.scan.requests"])
		assert.Equal(t, amqp.ExchangeTopic, channel.exchanges["sentinel.scan.results"])
		assert.Equal(t, "sentinel.scan.requests/scan.*", channel.bindings["sentinel.scan.requests.queue"])
		assert.Equal(t, "sentinel.scan.results/scan.*.*", channel.bindings["sentinel.scan.results.queue"])
		assert.Nil(t, channel.queues["sentinel.scan.requests.queue"])
		assert.Equal(t, 1, channel.prefetch)
	})

	t.Run("DeadLetterExchange", func(t *testing.T) {
		_, channel := testGateway(t, func(cfg *config.Broker) {
			cfg.DeadLetterExchange = "sentinel.scan.dead"
		})

		assert.Equal(t, amqp.ExchangeFanout, channel.exchanges["sentinel.scan.dead"])
		assert.Equal(t, "sentinel.scan.dead", channel.queues["sentinel.scan.requests.queue"]["x-dead-letter-exchange"])
		assert.Equal(t, "sentinel.scan.dead", channel.queues["sentinel.scan.results.queue"]["x-dead-letter-exchange"])
	})
}

func TestBrokerURI(t *testing.T) {
	cfg := config.DefaultConfig().Broker
	cfg.Password = "p@ss"

	uri := brokerURI(cfg)
	assert.Equal(t, "/", uri.Vhost)
	assert.Equal(t, "localhost", uri.Host)
	assert.Equal(t, 5672, uri.Port)
}

func TestPublishRequest(t *testing.T) {
	gateway, channel := testGateway(t, nil)

	command := &proto.ScanCommand{
		ScanID:        id.NewScanID(),
		ScanType:      "SAST",
		RepositoryURL: "https://git/x.git",
	}

	require.NoError(t, gateway.PublishRequest(context.Background(), command, "scan.sast"))
	require.Len(t, channel.published, 1)

	p := channel.published[0]
	assert.Equal(t, "sentinel.scan.requests", p.exchange)
	assert.Equal(t, "scan.sast", p.key)
	assert.Equal(t, "application/json", p.msg.ContentType)
	assert.Equal(t, amqp.Persistent, p.msg.DeliveryMode)
	assert.False(t, p.msg.Timestamp.IsZero())

	var decoded proto.ScanCommand
	require.NoError(t, json.Unmarshal(p.msg.Body, &decoded))
	assert.Equal(t, *command, decoded)

	t.Run("Error", func(t *testing.T) {
		channel.publishErr = errors.New("channel closed")
		assert.ErrorContains(t, gateway.PublishRequest(context.Background(), command, "scan.sast"), "channel closed")
	})
}

func TestPublishResult(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		key     string
	}{
		{"ScanType", map[string]any{"scanType": "SAST", "tool": "semgrep"}, "scan.sast.completed"},
		{"Type", map[string]any{"type": "DAST"}, "scan.dast.completed"},
		{"Tool", map[string]any{"tool": "Semgrep"}, "scan.semgrep.completed"},
		{"NonStringScanType", map[string]any{"scanType": 7, "tool": "zap"}, "scan.zap.completed"},
		{"Nothing", map[string]any{"scanId": "x"}, "scan.unknown.completed"},
		{"NotAnObject", []string{"a"}, "scan.unknown.completed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway, channel := testGateway(t, nil)

			require.NoError(t, gateway.PublishResult(context.Background(), tt.payload))
			require.Len(t, channel.published, 1)
			assert.Equal(t, "sentinel.scan.results", channel.published[0].exchange)
			assert.Equal(t, tt.key, channel.published[0].key)
		})
	}

	t.Run("Decision", func(t *testing.T) {
		gateway, channel := testGateway(t, nil)

		decision := &proto.DecisionMessage{ScanID: "s-1", ScanType: "SAST", Tool: "semgrep", Status: proto.GatePass}
		require.NoError(t, gateway.PublishDecision(context.Background(), decision))
		assert.Equal(t, "scan.sast.completed", channel.published[0].key)
	})
}

func TestConsume(t *testing.T) {
	t.Run("AckAndNack", func(t *testing.T) {
		gateway, channel := testGateway(t, nil)
		ack := newFakeAcknowledger()

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error)
		go func() {
			done <- gateway.ConsumeRequests(ctx, func(ctx context.Context, body []byte) error {
				if string(body) == "bad" {
					return errors.New("boom")
				}
				return nil
			})
		}()

		requests := channel.deliveries["sentinel.scan.requests.queue"]
		requests <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte("good")}
		requests <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte("bad")}
		ack.wait(t, 2)

		cancel()
		assert.NoError(t, <-done)

		ack.mutex.Lock()
		defer ack.mutex.Unlock()
		assert.Equal(t, []uint64{1}, ack.acks)
		assert.Equal(t, map[uint64]bool{2: true}, ack.nacks)
	})

	t.Run("PoisonMessageIsRejected", func(t *testing.T) {
		gateway, channel := testGateway(t, func(cfg *config.Broker) {
			cfg.MaxRedeliveries = 3
		})
		ack := newFakeAcknowledger()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			_ = gateway.ConsumeResults(ctx, func(ctx context.Context, body []byte) error {
				return fmt.Errorf("%w: not json", ErrMalformed)
			})
		}()

		results := channel.deliveries["sentinel.scan.results.queue"]
		for tag := uint64(1); tag <= 3; tag++ {
			results <- amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: []byte("poison")}
			ack.wait(t, 1)
		}

		ack.mutex.Lock()
		defer ack.mutex.Unlock()
		assert.Equal(t, map[uint64]bool{1: true, 2: true, 3: false}, ack.nacks)
	})

	t.Run("TransientErrorsAreAlwaysRequeued", func(t *testing.T) {
		gateway, channel := testGateway(t, func(cfg *config.Broker) {
			cfg.MaxRedeliveries = 3
		})
		ack := newFakeAcknowledger()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			_ = gateway.ConsumeResults(ctx, func(ctx context.Context, body []byte) error {
				return errors.New("dial tcp: connection refused")
			})
		}()

		results := channel.deliveries["sentinel.scan.results.queue"]
		for tag := uint64(1); tag <= 6; tag++ {
			results <- amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: []byte(`{"scanId":"abc"}`)}
			ack.wait(t, 1)
		}

		ack.mutex.Lock()
		defer ack.mutex.Unlock()
		assert.Equal(t, map[uint64]bool{1: true, 2: true, 3: true, 4: true, 5: true, 6: true}, ack.nacks)
	})

	t.Run("ClosedDeliveries", func(t *testing.T) {
		gateway, channel := testGateway(t, nil)
		close(channel.deliveries["sentinel.scan.results.queue"])

		err := gateway.ConsumeResults(context.Background(), func(ctx context.Context, body []byte) error {
			return nil
		})
		assert.ErrorIs(t, err, ErrDeliveriesClosed)
	})

	t.Run("UnknownQueue", func(t *testing.T) {
		gateway, channel := testGateway(t, nil)
		delete(channel.deliveries, "sentinel.scan.requests.queue")

		err := gateway.ConsumeRequests(context.Background(), func(ctx context.Context, body []byte) error {
			return nil
		})
		assert.Error(t, err)
	})

	t.Run("ConcurrentWorkers", func(t *testing.T) {
		gateway, channel := testGateway(t, func(cfg *config.Broker) {
			cfg.Workers = 2
		})
		ack := newFakeAcknowledger()

		release := make(chan struct{})
		started := make(chan struct{}, 2)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			_ = gateway.ConsumeRequests(ctx, func(ctx context.Context, body []byte) error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()

		requests := channel.deliveries["sentinel.scan.requests.queue"]
		requests <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte("a")}
		requests <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte("b")}

		// Both handlers must be running at the same time
		for i := 0; i < 2; i++ {
			select {
			case <-started:
			case <-time.After(5 * time.Second):
				t.Fatal("handlers didn't run concurrently")
			}
		}

		close(release)
		ack.wait(t, 2)
	})
}

func TestRedeliveryTracker(t *testing.T) {
	t.Run("Unbounded", func(t *testing.T) {
		tracker := newRedeliveryTracker(0)
		for i := 0; i < 10; i++ {
			assert.True(t, tracker.shouldRequeue([]byte("x")))
		}
	})

	t.Run("Bounded", func(t *testing.T) {
		tracker := newRedeliveryTracker(2)
		assert.True(t, tracker.shouldRequeue([]byte("x")))
		assert.True(t, tracker.shouldRequeue([]byte("y")))
		assert.False(t, tracker.shouldRequeue([]byte("x")))
		// The count starts over once a message is given up on
		assert.True(t, tracker.shouldRequeue([]byte("x")))
	})

	t.Run("ForgetOnSuccess", func(t *testing.T) {
		tracker := newRedeliveryTracker(2)
		assert.True(t, tracker.shouldRequeue([]byte("x")))
		tracker.forget([]byte("x"))
		assert.True(t, tracker.shouldRequeue([]byte("x")))
	})
}

func TestClose(t *testing.T) {
	gateway, channel := testGateway(t, nil)
	assert.NoError(t, gateway.Close())
	assert.True(t, channel.closed)
}

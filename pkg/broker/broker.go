package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fatih/semgroup"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/sentinel/securitygate/pkg/config"
	"github.com/sentinel/securitygate/pkg/logger"
	"github.com/sentinel/securitygate/pkg/proto"
	"github.com/sentinel/securitygate/pkg/scantype"
	"github.com/sentinel/securitygate/version"
)

const (
	requestBindingKey = "scan.*"
	resultBindingKey  = "scan.*.*"
	contentType       = "application/json"
)

// ErrDeliveriesClosed is returned by the consumers when the broker closes
// the delivery channel, usually because the connection dropped
var ErrDeliveriesClosed = errors.New("broker closed the delivery channel")

// ErrMalformed marks a handler error for a message that can never be
// handled. Only these count towards max_redeliveries; every other error is
// requeued for as long as it takes.
var ErrMalformed = errors.New("malformed message")

// Channel is the part of *amqp.Channel the gateway uses
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Handler processes a single message body. Returning nil acknowledges the
// message and returning an error requeues it. Errors wrapping ErrMalformed
// are requeued at most max_redeliveries times.
type Handler func(ctx context.Context, body []byte) error

// Gateway owns the broker connection and the single channel shared by the
// publishers and both consumers
type Gateway struct {
	cfg     config.Broker
	conn    io.Closer
	channel Channel
	// Publishing isn't safe for concurrent use on one channel
	mutex   sync.Mutex
	tracker *redeliveryTracker
}

// Dial connects to the broker, retrying with exponential backoff, and
// declares the topology
func Dial(ctx context.Context, cfg config.Broker) (*Gateway, error) {
	uri := brokerURI(cfg)

	connect := func() (*amqp.Connection, error) {
		return amqp.DialConfig(uri.String(), amqp.Config{
			Heartbeat: 10 * time.Second,
			Locale:    "en_US",
			Properties: amqp.Table{
				"connection_name": version.GlobalUserAgent,
			},
		})
	}

	notify := func(err error, next time.Duration) {
		logger.Warning("could not connect to broker: host=%q retry_in=%q error=%q", uri.Host, next, err)
	}

	conn, err := backoff.Retry(ctx, connect,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(cfg.ConnectAttempts),
		backoff.WithNotify(notify),
	)
	if err != nil {
		return nil, fmt.Errorf("could not connect to broker: host=%q error=%w", uri.Host, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not open broker channel: %w", err)
	}

	gateway, err := NewGateway(cfg, channel)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	gateway.conn = conn
	logger.Info("connected to broker: host=%q vhost=%q", uri.Host, uri.Vhost)
	return gateway, nil
}

// NewGateway declares the exchanges, queues and bindings on channel and
// returns a gateway that uses it
func NewGateway(cfg config.Broker, channel Channel) (*Gateway, error) {
	g := &Gateway{
		cfg:     cfg,
		channel: channel,
		tracker: newRedeliveryTracker(cfg.MaxRedeliveries),
	}

	if err := g.declareTopology(); err != nil {
		return nil, err
	}

	return g, nil
}

func brokerURI(cfg config.Broker) amqp.URI {
	vhost := cfg.VirtualHost
	if len(vhost) == 0 {
		vhost = "/"
	}

	return amqp.URI{
		Scheme:   "amqp",
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		Vhost:    vhost,
	}
}

func (g *Gateway) declareTopology() error {
	var queueArgs amqp.Table

	if len(g.cfg.DeadLetterExchange) > 0 {
		if err := g.channel.ExchangeDeclare(g.cfg.DeadLetterExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
			return fmt.Errorf("could not declare exchange: exchange=%q error=%w", g.cfg.DeadLetterExchange, err)
		}

		queueArgs = amqp.Table{"x-dead-letter-exchange": g.cfg.DeadLetterExchange}
	}

	bindings := []struct {
		exchange string
		queue    string
		key      string
	}{
		{g.cfg.RequestExchange, g.cfg.RequestQueue, requestBindingKey},
		{g.cfg.ResultExchange, g.cfg.ResultQueue, resultBindingKey},
	}

	for _, b := range bindings {
		if err := g.channel.ExchangeDeclare(b.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("could not declare exchange: exchange=%q error=%w", b.exchange, err)
		}

		if _, err := g.channel.QueueDeclare(b.queue, true, false, false, false, queueArgs); err != nil {
			return fmt.Errorf("could not declare queue: queue=%q error=%w", b.queue, err)
		}

		if err := g.channel.QueueBind(b.queue, b.key, b.exchange, false, nil); err != nil {
			return fmt.Errorf("could not bind queue: queue=%q key=%q exchange=%q error=%w", b.queue, b.key, b.exchange, err)
		}
	}

	if g.cfg.Prefetch > 0 {
		if err := g.channel.Qos(g.cfg.Prefetch, 0, false); err != nil {
			return fmt.Errorf("could not set prefetch: prefetch=%d error=%w", g.cfg.Prefetch, err)
		}
	}

	return nil
}

// PublishRequest publishes a scan command to the request exchange
func (g *Gateway) PublishRequest(ctx context.Context, command *proto.ScanCommand, routingKey string) error {
	body, err := json.Marshal(command)
	if err != nil {
		return fmt.Errorf("could not marshal scan command: %w", err)
	}

	if err := g.publish(ctx, g.cfg.RequestExchange, routingKey, body); err != nil {
		return err
	}

	logger.Info("published scan request: scan_id=%q routing_key=%q", command.ScanID, routingKey)
	return nil
}

// PublishResult publishes any JSON serializable payload to the result
// exchange. The routing key is scan.<scanType|type|tool>.completed using
// the first of those fields that's set.
func (g *Gateway) PublishResult(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("could not marshal result: %w", err)
	}

	routingKey := resultRoutingKey(body)
	if err := g.publish(ctx, g.cfg.ResultExchange, routingKey, body); err != nil {
		return err
	}

	logger.Info("published scan result: routing_key=%q", routingKey)
	return nil
}

// PublishDecision publishes a quality gate decision as a scan result
func (g *Gateway) PublishDecision(ctx context.Context, decision *proto.DecisionMessage) error {
	return g.PublishResult(ctx, decision)
}

func resultRoutingKey(body []byte) string {
	var fields map[string]any

	if err := json.Unmarshal(body, &fields); err != nil {
		return scantype.DefaultResultRoutingKey
	}

	for _, name := range []string{"scanType", "type", "tool"} {
		if value, ok := fields[name].(string); ok && len(strings.TrimSpace(value)) > 0 {
			return scantype.ResultRoutingKey(value)
		}
	}

	return scantype.DefaultResultRoutingKey
}

func (g *Gateway) publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	err := g.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		AppId:        "securitygate",
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("could not publish message: exchange=%q routing_key=%q error=%w", exchange, routingKey, err)
	}

	return nil
}

// ConsumeRequests delivers scan requests to handler until ctx is done
func (g *Gateway) ConsumeRequests(ctx context.Context, handler Handler) error {
	return g.consume(ctx, g.cfg.RequestQueue, handler)
}

// ConsumeResults delivers scan results to handler until ctx is done
func (g *Gateway) ConsumeResults(ctx context.Context, handler Handler) error {
	return g.consume(ctx, g.cfg.ResultQueue, handler)
}

func (g *Gateway) consume(ctx context.Context, queue string, handler Handler) error {
	deliveries, err := g.channel.Consume(queue, "securitygate-"+queue, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("could not consume queue: queue=%q error=%w", queue, err)
	}

	workers := int64(g.cfg.Workers)
	if workers < 1 {
		workers = 1
	}

	sema := semgroup.NewGroup(ctx, workers)
	logger.Info("consuming queue: queue=%q workers=%d", queue, workers)

	for {
		select {
		case <-ctx.Done():
			_ = sema.Wait()
			logger.Info("stopped consuming queue: queue=%q", queue)
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				_ = sema.Wait()
				return fmt.Errorf("%w: queue=%q", ErrDeliveriesClosed, queue)
			}

			sema.Go(func() error {
				g.handle(ctx, queue, delivery, handler)
				return nil
			})
		}
	}
}

func (g *Gateway) handle(ctx context.Context, queue string, delivery amqp.Delivery, handler Handler) {
	err := handler(ctx, delivery.Body)
	if err == nil {
		g.tracker.forget(delivery.Body)

		if err := delivery.Ack(false); err != nil {
			logger.Error("could not ack message: queue=%q error=%q", queue, err)
		}
		return
	}

	requeue := true
	if errors.Is(err, ErrMalformed) {
		requeue = g.tracker.shouldRequeue(delivery.Body)
	}

	if requeue {
		logger.Error("could not handle message, requeueing: queue=%q error=%q", queue, err)
	} else {
		logger.Error("could not handle message, rejecting after too many attempts: queue=%q max_redeliveries=%d error=%q", queue, g.cfg.MaxRedeliveries, err)
	}

	if err := delivery.Nack(false, requeue); err != nil {
		logger.Error("could not nack message: queue=%q error=%q", queue, err)
	}
}

// Close closes the channel and then the connection
func (g *Gateway) Close() error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	var errs []error
	if err := g.channel.Close(); err != nil {
		errs = append(errs, fmt.Errorf("could not close channel: %w", err))
	}

	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("could not close connection: %w", err))
		}
	}

	return errors.Join(errs...)
}

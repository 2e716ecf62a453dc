package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func connectToRabbitMQ(url string) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	for i := 0; i < MaxConnectRetry; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			slog.Info("connected to rabbitmq")
			return conn, nil
		}
		slog.Warn("failed to connect to rabbitmq", "attempt", i+1, "max_attempts", MaxConnectRetry, "error", err)
		time.Sleep(RetryDelay)
	}
	slog.Error("failed to connect to rabbitmq", "attempts", MaxConnectRetry, "error", err)
	return nil, fmt.Errorf("failed to connect to rabbitmq after %d attempts: %w", MaxConnectRetry, err)
}

func declareCrackQueue(channel *amqp.Channel) error {
	if _, err := channel.QueueDeclare(CrackQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare rabbitmq queue %s: %w", CrackQueue, err)
	}
	return nil
}

type RabbitMQPublisher struct {
	connLock   sync.RWMutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	url        string
	closed     chan struct{}
	destructor sync.Once
}

func NewRabbitMQPublisher(rabbitMQURL string) (*RabbitMQPublisher, error) {
	p := &RabbitMQPublisher{url: rabbitMQURL, closed: make(chan struct{})}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *RabbitMQPublisher) connect() error {
	conn, err := connectToRabbitMQ(p.url)
	if err != nil {
		return err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		slog.Error("failed to open rabbitmq channel", "error", err)
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if err := declareCrackQueue(channel); err != nil {
		conn.Close()
		return err
	}

	p.conn, p.channel = conn, channel
	slog.Info("rabbitmq channel opened and queue declared", "queue", CrackQueue)

	go p.handleReconnect(channel)

	return nil
}

func (p *RabbitMQPublisher) handleReconnect(channel *amqp.Channel) {
	notifyClose := make(chan *amqp.Error, 1)
	channel.NotifyClose(notifyClose)

	err, ok := <-notifyClose
	if !ok {
		slog.Info("rabbitmq channel closed")
		return
	}

	select {
	case <-p.closed:
		return
	default:
	}

	slog.Warn("rabbitmq connection closed, attempting to reconnect", "error", err)

	// Publishing blocks on the lock until the connection is back.
	p.connLock.Lock()
	defer p.connLock.Unlock()

	p.channel = nil
	p.conn = nil
	for {
		if p.connect() == nil {
			slog.Info("successfully reconnected to rabbitmq")
			return
		}
		select {
		case <-p.closed:
			return
		case <-time.After(RetryDelay * 10):
		}
	}
}

func (p *RabbitMQPublisher) publishTaskInternal(ctx context.Context, queueName string, payload interface{}) error {
	p.connLock.RLock()
	defer p.connLock.RUnlock()

	if p.channel == nil || p.channel.IsClosed() {
		return fmt.Errorf("rabbitmq connection is closed")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal payload", "queue", queueName, "error", err)
		return fmt.Errorf("failed to marshal %s payload: %w", queueName, err)
	}

	err = p.channel.PublishWithContext(ctx,
		"",        // exchange (default)
		queueName, // routing key (queue name)
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
	if err != nil {
		slog.Error("failed to publish task, potential connection issue", "queue", queueName, "error", err)
		return fmt.Errorf("failed to publish %s: %w", queueName, err)
	}

	return nil
}

func (p *RabbitMQPublisher) PublishCrackTask(ctx context.Context, payload CrackTaskPayload) error {
	return p.publishTaskInternal(ctx, CrackQueue, payload)
}

func (p *RabbitMQPublisher) Close() {
	p.destructor.Do(func() {
		close(p.closed)

		p.connLock.RLock()
		defer p.connLock.RUnlock()
		if p.conn == nil {
			return
		}
		if err := p.conn.Close(); err != nil {
			slog.Error("error closing rabbitmq connection", "error", err)
		}
	})
}

type RabbitMQTask struct {
	d amqp.Delivery
}

func (t *RabbitMQTask) Type() string {
	return t.d.RoutingKey
}

func (t *RabbitMQTask) Payload() []byte {
	return t.d.Body
}

func (t *RabbitMQTask) Ack() error {
	return t.d.Ack(false)
}

// Nack drops the message without requeueing it.
func (t *RabbitMQTask) Nack() error {
	return t.d.Nack(false, false)
}

func (t *RabbitMQTask) Reject() error {
	return t.d.Reject(false)
}

type RabbitMQReceiver struct {
	tasks     chan Task
	url       string
	prefetch  int
	stop      chan struct{}
	stopOnce  sync.Once
	consumers sync.WaitGroup
}

// NewRabbitMQReceiver consumes the crack queue with at most prefetch
// unacknowledged deliveries in flight.
func NewRabbitMQReceiver(rabbitMQURL string, prefetch int) (*RabbitMQReceiver, error) {
	c := &RabbitMQReceiver{
		tasks:    make(chan Task),
		url:      rabbitMQURL,
		prefetch: max(prefetch, 1),
		stop:     make(chan struct{}),
	}

	if err := c.receiveTasks(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *RabbitMQReceiver) consume(msgs <-chan amqp.Delivery) {
	defer c.consumers.Done()

	for d := range msgs {
		select {
		case c.tasks <- &RabbitMQTask{d: d}:
		case <-c.stop:
			if err := d.Nack(false, true); err != nil {
				slog.Warn("error returning delivery to queue", "error", err)
			}
			return
		}
	}
}

func (c *RabbitMQReceiver) receiveTasks() error {
	conn, err := connectToRabbitMQ(c.url)
	if err != nil {
		return err
	}
	channel, err := conn.Channel()
	if err != nil {
		slog.Error("failed to open rabbitmq channel", "error", err)
		conn.Close()
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if err := channel.Qos(c.prefetch, 0, false); err != nil {
		slog.Error("failed to set channel qos", "error", err)
		conn.Close()
		return fmt.Errorf("failed to set channel qos: %w", err)
	}

	if err := declareCrackQueue(channel); err != nil {
		conn.Close()
		return err
	}

	msgs, err := channel.Consume(CrackQueue, "", false, false, false, false, nil)
	if err != nil {
		slog.Error("failed to consume from rabbitmq queue", "queue", CrackQueue, "error", err)
		conn.Close()
		return fmt.Errorf("failed to consume from rabbitmq queue %s: %w", CrackQueue, err)
	}

	c.consumers.Add(1)
	go c.consume(msgs)

	go c.handleReconnect(conn, channel)

	return nil
}

func (c *RabbitMQReceiver) handleReconnect(conn *amqp.Connection, channel *amqp.Channel) {
	notifyClose := make(chan *amqp.Error, 1)
	channel.NotifyClose(notifyClose)

	select {
	case err, ok := <-notifyClose:
		if !ok {
			slog.Info("rabbitmq channel closed")
			return
		}

		slog.Warn("rabbitmq connection closed, attempting to reconnect", "error", err)

		for {
			if c.receiveTasks() == nil {
				slog.Info("successfully restarted rabbitmq consumer")
				return
			}
			select {
			case <-c.stop:
				c.shutdown(nil)
				return
			case <-time.After(RetryDelay * 10):
			}
		}
	case <-c.stop:
		c.shutdown(conn)
	}
}

func (c *RabbitMQReceiver) shutdown(conn *amqp.Connection) {
	slog.Info("stopping rabbitmq consumer")
	if conn != nil {
		if err := conn.Close(); err != nil {
			slog.Error("error closing rabbitmq conn", "error", err)
		}
	}
	c.consumers.Wait()
	close(c.tasks)
}

func (c *RabbitMQReceiver) Tasks() <-chan Task {
	return c.tasks
}

// Close stops consuming. Tasks is closed once in-flight deliveries have been
// handed back.
func (c *RabbitMQReceiver) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

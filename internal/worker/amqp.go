package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DialAMQP connects to the broker and checks a channel can be opened.
func DialAMQP(ctx context.Context, url string) (*amqp.Connection, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(5 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	_ = ch.Close()
	return conn, nil
}

// AMQPPersister publishes jobs to a durable queue and consumes them on a
// background goroutine, so turns survive a restart between reply and write.
type AMQPPersister struct {
	conn      *amqp.Connection
	writer    TurnWriter
	queueName string
	logger    *zap.Logger

	pubMu sync.Mutex
	pubCh *amqp.Channel

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewAMQPPersister(conn *amqp.Connection, writer TurnWriter, queueName string, logger *zap.Logger) *AMQPPersister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPPersister{conn: conn, writer: writer, queueName: queueName, logger: logger}
}

// Start declares the queue and begins consuming.
func (p *AMQPPersister) Start(ctx context.Context) error {
	if p.cancel != nil {
		return nil
	}
	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	ch, err := p.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}
	// one unacked delivery at a time keeps the writes in publish order
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}
	deliveries, err := ch.Consume(p.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer ch.Close()
		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				p.handleDelivery(d)
			}
		}
	}()
	return nil
}

func (p *AMQPPersister) handleDelivery(d amqp.Delivery) {
	var job PersistJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		p.logger.Error("decode persist job failed", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	if !writeTurn(p.writer, p.logger, job) {
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

// Enqueue publishes the job; a publish failure is logged and the turn is lost.
func (p *AMQPPersister) Enqueue(job PersistJob) {
	payload, err := json.Marshal(job)
	if err != nil {
		p.logger.Error("marshal persist job failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.publish(ctx, payload); err != nil {
		p.logger.Error("publish persist job failed",
			zap.String("thread_id", job.ThreadID),
			zap.Error(err),
		)
	}
}

func (p *AMQPPersister) publish(ctx context.Context, payload []byte) error {
	p.pubMu.Lock()
	defer p.pubMu.Unlock()
	if p.pubCh == nil || p.pubCh.IsClosed() {
		ch, err := p.conn.Channel()
		if err != nil {
			return fmt.Errorf("open rabbitmq channel failed: %w", err)
		}
		if _, err := ch.QueueDeclare(p.queueName, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			return fmt.Errorf("declare queue failed: %w", err)
		}
		p.pubCh = ch
	}
	return p.pubCh.PublishWithContext(ctx, "", p.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         payload,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
	})
}

// Close stops consuming and closes the publishing channel. The connection
// belongs to the caller.
func (p *AMQPPersister) Close() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.pubMu.Lock()
	if p.pubCh != nil {
		_ = p.pubCh.Close()
		p.pubCh = nil
	}
	p.pubMu.Unlock()
}

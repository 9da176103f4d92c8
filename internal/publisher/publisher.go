// Package publisher forwards committed wallet events to a Kafka topic.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/jmerrifield20/MultiSigWallet/internal/wallet"
)

// Config holds the Kafka settings for event publishing.
type Config struct {
	Enabled bool
	Brokers []string
	Topic   string
	Acks    int
}

// Message is the JSON value written for every event.
type Message struct {
	Wallet string       `json:"wallet"`
	Event  wallet.Event `json:"event"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type writeCloser interface {
	Close() error
}

const queueSize = 256

var (
	errNotStarted = errors.New("event publisher not started")
	errStopped    = errors.New("event publisher stopped")
	errQueueFull  = errors.New("event publisher queue full")
)

var (
	publishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msig_events_published_total",
		Help: "Wallet events written to Kafka, by result.",
	}, []string{"result"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "msig_publisher_queue_depth",
		Help: "Wallet events waiting to be written to Kafka.",
	})

	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msig_publisher_dropped_total",
		Help: "Wallet events dropped because the publish queue was full.",
	})
)

// Publisher queues committed events and writes them to Kafka from a
// background loop. It implements wallet.EventSink.
type Publisher struct {
	cfg    Config
	name   string
	logger *zap.Logger
	writer messageWriter
	closer writeCloser
	queue  chan kafka.Message

	runCtx    context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
}

// New creates a Publisher. walletName labels every message. A disabled
// config yields a Publisher whose methods are no-ops.
func New(cfg Config, walletName string, logger *zap.Logger) (*Publisher, error) {
	if !cfg.Enabled {
		logger.Info("event publisher disabled")
		return &Publisher{cfg: cfg, logger: logger}, nil
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		RequiredAcks:           kafka.RequiredAcks(cfg.Acks),
		AllowAutoTopicCreation: false,
		Balancer:               &kafka.Hash{},
	}
	return newWithWriter(cfg, walletName, logger, w, w), nil
}

func newWithWriter(cfg Config, walletName string, logger *zap.Logger, writer messageWriter, closer writeCloser) *Publisher {
	return &Publisher{
		cfg:    cfg,
		name:   walletName,
		logger: logger.With(zap.String("component", "event_publisher")),
		writer: writer,
		closer: closer,
		queue:  make(chan kafka.Message, queueSize),
	}
}

// Start launches the delivery loop. The loop stops when ctx is cancelled or
// Stop is called.
func (p *Publisher) Start(ctx context.Context) error {
	if !p.cfg.Enabled {
		return nil
	}
	p.startOnce.Do(func() {
		p.runCtx, p.cancel = context.WithCancel(ctx)
		p.started.Store(true)
		p.wg.Add(1)
		go p.run()
		p.logger.Info("event publisher started", zap.String("topic", p.cfg.Topic))
	})
	return nil
}

// Stop cancels the loop, drains queued messages and closes the writer.
func (p *Publisher) Stop(ctx context.Context) error {
	if !p.cfg.Enabled {
		return nil
	}
	var stopErr error
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			stopErr = ctx.Err()
		}
		if p.closer != nil {
			if err := p.closer.Close(); err != nil {
				p.logger.Error("close kafka writer", zap.Error(err))
			}
		}
		queueDepth.Set(0)
		p.logger.Info("event publisher stopped")
	})
	return stopErr
}

// HandleEvents implements wallet.EventSink. Messages are keyed by
// transaction index so events of one transaction stay ordered on a
// partition. Enqueueing never waits: when the queue is full the event is
// dropped and counted, and errQueueFull is returned after the batch.
func (p *Publisher) HandleEvents(_ context.Context, events []wallet.Event) error {
	if !p.cfg.Enabled {
		return nil
	}
	if !p.started.Load() {
		return errNotStarted
	}
	dropped := 0
	for _, ev := range events {
		value, err := json.Marshal(Message{Wallet: p.name, Event: ev})
		if err != nil {
			publishTotal.WithLabelValues("fail").Inc()
			return fmt.Errorf("encode event: %w", err)
		}
		msg := kafka.Message{Key: messageKey(ev), Value: value}
		select {
		case <-p.runCtx.Done():
			publishTotal.WithLabelValues("fail").Inc()
			return errStopped
		default:
		}
		select {
		case p.queue <- msg:
			queueDepth.Set(float64(len(p.queue)))
		default:
			dropped++
			droppedTotal.Inc()
			p.logger.Warn("publish queue full, event dropped",
				zap.String("kind", string(ev.Kind)),
				zap.Int("index", ev.Index),
			)
		}
	}
	if dropped > 0 {
		return fmt.Errorf("%w: dropped %d of %d events", errQueueFull, dropped, len(events))
	}
	return nil
}

func messageKey(ev wallet.Event) []byte {
	if ev.Index < 0 {
		return []byte(string(ev.Kind))
	}
	return []byte(strconv.Itoa(ev.Index))
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.runCtx.Done():
			p.drain()
			p.started.Store(false)
			return
		case msg := <-p.queue:
			queueDepth.Set(float64(len(p.queue)))
			p.deliver(msg)
		}
	}
}

func (p *Publisher) drain() {
	for {
		select {
		case msg := <-p.queue:
			queueDepth.Set(float64(len(p.queue)))
			p.deliver(msg)
		default:
			return
		}
	}
}

func (p *Publisher) deliver(msg kafka.Message) {
	// runCtx may already be cancelled while draining.
	err := p.writer.WriteMessages(context.WithoutCancel(p.runCtx), msg)
	if err != nil {
		publishTotal.WithLabelValues("fail").Inc()
		p.logger.Error("publish wallet event",
			zap.ByteString("key", msg.Key),
			zap.Error(err),
		)
		return
	}
	publishTotal.WithLabelValues("ok").Inc()
	p.logger.Debug("wallet event published", zap.ByteString("key", msg.Key))
}

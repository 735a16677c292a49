package grpc

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var (
	ErrBusFull   = errors.New("grpc bus: publish queue is full")
	ErrBusClosed = errors.New("grpc bus: closed")
)

const publishTimeout = 5 * time.Second

type event struct {
	topic string
	data  []byte
}

// Bus publishes events to a remote Events service over gRPC.
// Publish only enqueues; a single goroutine delivers in order.
type Bus struct {
	client *EventsClient
	queue  chan event
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger

	// mu orders enqueues before close so the drain in run sees every accepted event.
	mu     sync.RWMutex
	closed bool
}

func NewBus(cc grpc.ClientConnInterface, bufferSize int, logger *zap.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	b := &Bus{
		client: NewEventsClient(cc),
		queue:  make(chan event, bufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	go b.run()
	return b
}

// NewBusFromAddr dials the remote Events service and returns a Bus and a cleanup function.
func NewBusFromAddr(addr string, bufferSize int, logger *zap.Logger) (*Bus, func(), error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	b := NewBus(conn, bufferSize, logger)
	cleanup := func() {
		b.Close()
		_ = conn.Close()
	}
	return b, cleanup, nil
}

func (b *Bus) Publish(topic string, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	select {
	case b.queue <- event{topic: topic, data: data}:
		return nil
	default:
		return ErrBusFull
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (b *Bus) Close() {
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.stop)
		b.mu.Unlock()
	})
	<-b.done
}

func (b *Bus) run() {
	defer close(b.done)
	for {
		select {
		case ev := <-b.queue:
			b.send(ev)
		case <-b.stop:
			for {
				select {
				case ev := <-b.queue:
					b.send(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) send(ev event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	res, err := b.client.Publish(ctx, &EventRequest{Topic: ev.topic, Payload: ev.data})
	if err != nil {
		b.logger.Warn("grpc bus: publish failed", zap.String("topic", ev.topic), zap.Error(err))
		return
	}
	if !res.Success {
		b.logger.Warn("grpc bus: event rejected", zap.String("topic", ev.topic), zap.String("error", res.ErrorMessage))
	}
}

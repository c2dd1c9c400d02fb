package submitter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/fiscal-bridge/internal/queue/domain"
)

type ackResult struct {
	acked   bool
	requeue bool
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	results map[uint64]ackResult
}

func newFakeAcknowledger() *fakeAcknowledger {
	return &fakeAcknowledger{results: make(map[uint64]ackResult)}
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[tag] = ackResult{acked: true}
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[tag] = ackResult{requeue: requeue}
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func (f *fakeAcknowledger) result(t *testing.T, tag uint64) ackResult {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.results[tag]
	require.True(t, ok, "delivery %d was neither acked nor nacked", tag)
	return res
}

type fakeSource struct {
	deliveries chan amqp.Delivery
	err        error
	tag        string
}

func (f *fakeSource) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	f.tag = consumerTag
	return f.deliveries, f.err
}

func delivery(ack amqp.Acknowledger, tag uint64, body string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  tag,
		ContentType:  "application/json",
		Body:         []byte(body),
	}
}

func TestConsumer_AcksAndNacks(t *testing.T) {
	ack := newFakeAcknowledger()
	source := &fakeSource{deliveries: make(chan amqp.Delivery, 8)}

	handler := EventHandlerFunc(func(ctx context.Context, event Event) (*domain.Job, error) {
		switch event.Kind {
		case EventSaleCompleted:
			return &domain.Job{ID: 1}, nil
		case EventCashMovement:
			return nil, &domain.ValidationError{Field: "payload.amount", Reason: "must be positive"}
		case EventDayClosed:
			return nil, NewRetryableError(errors.New("database is locked"))
		}
		return nil, ErrUnknownEvent
	})

	source.deliveries <- delivery(ack, 1, `{"event":"sale.completed"}`)
	source.deliveries <- delivery(ack, 2, `not json`)
	source.deliveries <- delivery(ack, 3, `{"items":[]}`)
	source.deliveries <- delivery(ack, 4, `{"event":"cash.movement"}`)
	source.deliveries <- delivery(ack, 5, `{"event":"day.closed"}`)
	source.deliveries <- delivery(ack, 6, `{"event":"inventory.changed"}`)
	close(source.deliveries)

	c := NewConsumer(ConsumerConfig{ConsumerTag: "submitter-test", Concurrency: 3}, source, handler, testLogger())
	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, "submitter-test", source.tag)

	tests := []struct {
		name string
		tag  uint64
		want ackResult
	}{
		{name: "processed", tag: 1, want: ackResult{acked: true}},
		{name: "malformed body", tag: 2, want: ackResult{}},
		{name: "missing event kind", tag: 3, want: ackResult{}},
		{name: "invalid event", tag: 4, want: ackResult{}},
		{name: "transient failure", tag: 5, want: ackResult{requeue: true}},
		{name: "unknown event", tag: 6, want: ackResult{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ack.result(t, tt.tag))
		})
	}
}

func TestConsumer_EndToEnd(t *testing.T) {
	ack := newFakeAcknowledger()
	source := &fakeSource{deliveries: make(chan amqp.Delivery, 1)}
	store := &fakeStore{}
	s := New(store, testHeader(), testLogger())

	source.deliveries <- delivery(ack, 7, `{"event":"sale.completed","device_id":"till-2","items":[{"name":"Tea","price":1.5}]}`)
	close(source.deliveries)

	c := NewConsumer(ConsumerConfig{ConsumerTag: "e2e"}, source, s, testLogger())
	require.NoError(t, c.Run(context.Background()))

	assert.True(t, ack.result(t, 7).acked)
	params := store.last(t)
	assert.Equal(t, domain.JobTypeReceipt, params.Type)
	assert.Equal(t, "till-2", *params.DeviceID)
}

func TestConsumer_StopsOnCancel(t *testing.T) {
	source := &fakeSource{deliveries: make(chan amqp.Delivery)}
	handler := EventHandlerFunc(func(ctx context.Context, event Event) (*domain.Job, error) {
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	c := NewConsumer(ConsumerConfig{ConsumerTag: "cancel", Concurrency: 2}, source, handler, testLogger())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop after cancel")
	}
}

func TestConsumer_ConsumeError(t *testing.T) {
	source := &fakeSource{err: errors.New("channel closed")}
	c := NewConsumer(ConsumerConfig{}, source, EventHandlerFunc(func(ctx context.Context, event Event) (*domain.Job, error) {
		return nil, nil
	}), testLogger())

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start consuming")
}

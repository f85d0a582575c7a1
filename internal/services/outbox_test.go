package services_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"libreria/internal/models"
	"libreria/internal/repositories"
	"libreria/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockPublisher is a mock implementation of services.Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, routingKey, key string, body []byte) error {
	args := m.Called(ctx, routingKey, key, body)
	return args.Error(0)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func enqueueAll(t *testing.T, store *repositories.MockStore, topics ...string) {
	t.Helper()
	for i, topic := range topics {
		require.NoError(t, store.Outbox().Enqueue(context.Background(), &models.OutboxMessage{
			Topic:       topic,
			AggregateID: "agg-1",
			Payload:     []byte(`{"n":1}`),
			CreatedAt:   time.Now().Add(time.Duration(i) * time.Millisecond),
		}))
	}
}

func statuses(store *repositories.MockStore) map[string]models.OutboxMessage {
	out := map[string]models.OutboxMessage{}
	for _, msg := range store.Messages() {
		out[msg.Topic] = msg
	}
	return out
}

func TestOutboxDispatcher_PublishesAndBacksOff(t *testing.T) {
	store := repositories.NewMockStore()
	enqueueAll(t, store, "notification.order.confirmed", "audit.order.pago_aprobado")

	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, "notification.order.confirmed", "agg-1", []byte(`{"n":1}`)).Return(nil).Once()
	pub.On("Publish", mock.Anything, "audit.order.pago_aprobado", "agg-1", mock.Anything).Return(errors.New("broker unreachable")).Once()

	d := services.NewOutboxDispatcher(store.Outbox(), pub, quietLogger(), services.OutboxConfig{BatchSize: 10, MaxAttempts: 3})
	sent, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	pub.AssertExpectations(t)

	got := statuses(store)
	assert.Equal(t, models.OutboxSent, got["notification.order.confirmed"].Status)
	require.NotNil(t, got["notification.order.confirmed"].SentAt)

	failed := got["audit.order.pago_aprobado"]
	assert.Equal(t, models.OutboxFailed, failed.Status)
	assert.Equal(t, 1, failed.Attempts)
	assert.Equal(t, "broker unreachable", failed.LastError)
	require.NotNil(t, failed.NextAttemptAt)
	assert.True(t, failed.NextAttemptAt.After(time.Now()))

	// not due yet, so nothing is published
	sent, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	pub.AssertNumberOfCalls(t, "Publish", 2)
}

func TestOutboxDispatcher_DiscardsAfterMaxAttempts(t *testing.T) {
	store := repositories.NewMockStore()
	enqueueAll(t, store, "notification.return.approved")

	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("rejected")).Once()

	d := services.NewOutboxDispatcher(store.Outbox(), pub, quietLogger(), services.OutboxConfig{MaxAttempts: 1})
	sent, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)

	msg := statuses(store)["notification.return.approved"]
	assert.Equal(t, models.OutboxDead, msg.Status)
	assert.Nil(t, msg.NextAttemptAt)
	pub.AssertExpectations(t)
}

func TestOutboxDispatcher_RunDrainsOnKick(t *testing.T) {
	store := repositories.NewMockStore()
	pub := new(MockPublisher)
	published := make(chan string, 4)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { published <- args.String(1) }).
		Return(nil)

	d := services.NewOutboxDispatcher(store.Outbox(), pub, quietLogger(), services.OutboxConfig{PollInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	enqueueAll(t, store, "notification.refund.completed")
	d.Kick()
	d.Kick()

	select {
	case topic := <-published:
		assert.Equal(t, "notification.refund.completed", topic)
	case <-time.After(2 * time.Second):
		t.Fatal("message was not published after Kick")
	}
	cancel()
	assert.NoError(t, <-done)
}

func TestLogPublisher(t *testing.T) {
	assert.NoError(t, services.LogPublisher{Logger: quietLogger()}.Publish(context.Background(), "audit.x", "k", []byte("{}")))
}

package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/otpd/internal/bus"
	"github.com/fyrsmithlabs/otpd/internal/delivery"
	"github.com/fyrsmithlabs/otpd/internal/record"
	"github.com/fyrsmithlabs/otpd/internal/source"
)

type fakeQueue struct {
	tasks []delivery.Task
	err   error
}

func (f *fakeQueue) Enqueue(_ context.Context, task delivery.Task) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	require.NoError(t, err)
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server did not start")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

type fixture struct {
	processor *Processor
	store     *record.MemStore
	queue     *fakeQueue
	nc        *nats.Conn
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := startTestNATSServer(t)
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	store := record.NewMemStore()
	queue := &fakeQueue{}
	events, err := bus.New(nc, zaptest.NewLogger(t))
	require.NoError(t, err)
	proc, err := New("DONIKKAH", store, queue, events, zaptest.NewLogger(t))
	require.NoError(t, err)
	return &fixture{processor: proc, store: store, queue: queue, nc: nc}
}

func msg(from, body string) source.Message {
	return source.Message{From: from, Body: body, ReceivedAt: time.Now().UTC()}
}

func TestProcessor_MatchingMessageCreatesAndEnqueues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	changed := make(chan struct{}, 1)
	events, err := bus.New(f.nc, zaptest.NewLogger(t))
	require.NoError(t, err)
	sub, err := events.SubscribeListChanged(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	out, err := f.processor.Process(ctx, msg("+15551234", "Your code is DONIKKAH 482910"))
	require.NoError(t, err)
	assert.Equal(t, record.OutcomeCreated, out)

	require.Len(t, f.queue.tasks, 1)
	task := f.queue.tasks[0]
	assert.Equal(t, "+15551234", task.Phone)
	assert.Equal(t, "482910", task.Code)

	rec, err := f.store.GetByPhone(ctx, "+15551234")
	require.NoError(t, err)
	assert.Equal(t, task.RecordID, rec.ID)
	assert.Equal(t, record.StatusPending, rec.Status)

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected list-changed event")
	}
}

func TestProcessor_NonMatchingMessageIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.processor.Process(ctx, msg("+15551234", "lunch at noon?"))
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, f.queue.tasks)

	_, err = f.store.GetByPhone(ctx, "+15551234")
	assert.ErrorIs(t, err, record.ErrNotFound)
}

func TestProcessor_DuplicateCodeSkipsEnqueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := "DONIKKAH 482910"

	out, err := f.processor.Process(ctx, msg("+15551234", body))
	require.NoError(t, err)
	assert.Equal(t, record.OutcomeCreated, out)

	out, err = f.processor.Process(ctx, msg("+15551234", body))
	require.NoError(t, err)
	assert.Equal(t, record.OutcomeSkippedDuplicate, out)
	assert.Len(t, f.queue.tasks, 1)
}

func TestProcessor_VerifiedSenderSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.processor.Process(ctx, msg("+15551234", "DONIKKAH 482910"))
	require.NoError(t, err)
	require.Equal(t, record.OutcomeCreated, out)
	rec, err := f.store.GetByPhone(ctx, "+15551234")
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateStatus(ctx, rec.ID, record.StatusSuccess))

	out, err = f.processor.Process(ctx, msg("+15551234", "DONIKKAH 482910"))
	require.NoError(t, err)
	assert.Equal(t, record.OutcomeSkippedVerified, out)
	assert.Len(t, f.queue.tasks, 1)
}

func TestProcessor_NewCodeAfterVerificationReopens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.processor.Process(ctx, msg("+15551234", "DONIKKAH 482910"))
	require.NoError(t, err)
	rec, err := f.store.GetByPhone(ctx, "+15551234")
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateStatus(ctx, rec.ID, record.StatusSuccess))

	out, err := f.processor.Process(ctx, msg("+15551234", "DONIKKAH 777777"))
	require.NoError(t, err)
	assert.Equal(t, record.OutcomeReopened, out)
	require.Len(t, f.queue.tasks, 2)
	assert.Equal(t, "777777", f.queue.tasks[1].Code)
}

func TestProcessor_EnqueueErrorPropagates(t *testing.T) {
	f := newFixture(t)
	f.queue.err = errors.New("stream unavailable")
	ctx := context.Background()

	out, err := f.processor.Process(ctx, msg("+15551234", "DONIKKAH 482910"))
	require.Error(t, err)
	assert.Equal(t, record.OutcomeCreated, out)

	// The record exists even though enqueue failed; a rescan re-observes
	// the same message as a duplicate, so operators must resend manually.
	rec, err := f.store.GetByPhone(ctx, "+15551234")
	require.NoError(t, err)
	assert.Equal(t, record.StatusPending, rec.Status)
}

func TestNew_RejectsMissingDependencies(t *testing.T) {
	srv := startTestNATSServer(t)
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer nc.Close()
	events, err := bus.New(nc, zaptest.NewLogger(t))
	require.NoError(t, err)
	store := record.NewMemStore()
	queue := &fakeQueue{}
	logger := zaptest.NewLogger(t)

	_, err = New("", store, queue, events, logger)
	assert.Error(t, err)
	_, err = New("DONIKKAH", nil, queue, events, logger)
	assert.Error(t, err)
	_, err = New("DONIKKAH", store, nil, events, logger)
	assert.Error(t, err)
	_, err = New("DONIKKAH", store, queue, nil, logger)
	assert.Error(t, err)
}

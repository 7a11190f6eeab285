package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var fixedNow = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func newMockOutbox(t *testing.T) (*OutboxStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	store := NewOutboxStore(mock)
	store.now = func() time.Time { return fixedNow }
	return store, mock
}

func TestOutboxStoreFlow(t *testing.T) {
	store, mock := newMockOutbox(t)

	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), "therapist:t-1", TypeSessionScheduled, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	env, err := store.Append(context.Background(), TherapistAggregate("t-1"), "req-1", SessionScheduledV1{
		SessionID:   "s-1",
		TherapistID: "t-1",
		Date:        civil.Date{Year: 2024, Month: time.January, Day: 2},
		StartTime:   "10:00",
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if env.TimestampMicros != fixedNow.UnixMicro() {
		t.Fatalf("unexpected timestamp: %d", env.TimestampMicros)
	}
	if env.CorrelationID != "req-1" {
		t.Fatalf("unexpected correlation id: %s", env.CorrelationID)
	}

	id := uuid.New()
	rows := pgxmock.NewRows([]string{"id", "aggregate", "event_type", "payload", "created_at"}).
		AddRow(id, "therapist:t-1", TypeSessionScheduled, []byte(`{"event_id":"x"}`), fixedNow)
	mock.ExpectQuery("SELECT id").WithArgs(int32(10)).WillReturnRows(rows)

	entries, err := store.FetchPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("fetch pending failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id || entries[0].Aggregate != "therapist:t-1" {
		t.Fatalf("unexpected entries: %#v", entries)
	}

	mock.ExpectExec("UPDATE outbox").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := store.MarkDelivered(context.Background(), id)
	if err != nil {
		t.Fatalf("mark delivered failed: %v", err)
	}
	if !ok {
		t.Fatal("expected mark delivered to report success")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

type badEvent struct{}

func (badEvent) EventType() string { return "" }

func TestNewEnvelope(t *testing.T) {
	id := uuid.MustParse("9a20d7d1-bf6a-4d33-bd55-5d25a816f1a8")
	override := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	env, err := newEnvelope(fixedNow, " therapist:t-1 ", "", SessionStatusChangedV1{
		SessionID: "s-1", TherapistID: "t-1", Status: "cancelled", ChangedAt: fixedNow,
	}, WithEventID(id), WithTimestamp(override))
	if err != nil {
		t.Fatalf("newEnvelope failed: %v", err)
	}
	if env.EventID != id {
		t.Fatalf("expected event id override, got %s", env.EventID)
	}
	if env.TimestampMicros != override.UnixMicro() {
		t.Fatalf("unexpected timestamp: %d", env.TimestampMicros)
	}
	if env.Aggregate != "therapist:t-1" || env.EventType != TypeSessionStatusChanged {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	var payload SessionStatusChangedV1
	if err := json.Unmarshal(env.Payload, &payload); err != nil || payload.Status != "cancelled" {
		t.Fatalf("unexpected payload %s: %v", env.Payload, err)
	}

	if _, err := newEnvelope(fixedNow, "", "", SessionStatusChangedV1{}); !errors.Is(err, errMissingAggregate) {
		t.Fatalf("expected missing aggregate error, got %v", err)
	}
	if _, err := newEnvelope(fixedNow, "a", "", nil); !errors.Is(err, errNilEvent) {
		t.Fatalf("expected nil event error, got %v", err)
	}
	if _, err := newEnvelope(fixedNow, "a", "", badEvent{}); err == nil {
		t.Fatal("expected error for empty event type")
	}
}

type recordingHandler struct {
	fail    map[uuid.UUID]bool
	handled []uuid.UUID
}

func (h *recordingHandler) Handle(_ context.Context, entry OutboxEntry) error {
	h.handled = append(h.handled, entry.ID)
	if h.fail[entry.ID] {
		return errors.New("transport down")
	}
	return nil
}

func TestDelivererDrain(t *testing.T) {
	store, mock := newMockOutbox(t)
	ok1, bad, held, other := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	rows := pgxmock.NewRows([]string{"id", "aggregate", "event_type", "payload", "created_at"}).
		AddRow(ok1, "therapist:t-1", TypeSessionScheduled, []byte(`{}`), fixedNow).
		AddRow(bad, "therapist:t-1", TypeSessionScheduled, []byte(`{}`), fixedNow).
		AddRow(held, "therapist:t-1", TypeSessionRescheduled, []byte(`{}`), fixedNow).
		AddRow(other, "therapist:t-2", TypeSessionScheduled, []byte(`{}`), fixedNow)
	mock.ExpectQuery("SELECT id").WithArgs(int32(5)).WillReturnRows(rows)
	mock.ExpectExec("UPDATE outbox").WithArgs(ok1).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE outbox").WithArgs(other).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	handler := &recordingHandler{fail: map[uuid.UUID]bool{bad: true}}
	d := NewDeliverer(store, handler, nil).WithBatchSize(5).WithInterval(time.Millisecond)

	if got := d.Drain(context.Background()); got != 1 {
		t.Fatalf("expected 1 newly delivered entry, got %d", got)
	}
	want := []uuid.UUID{ok1, bad, other}
	if len(handler.handled) != len(want) {
		t.Fatalf("expected %d attempts, got %d", len(want), len(handler.handled))
	}
	for i, id := range want {
		if handler.handled[i] != id {
			t.Fatalf("attempt %d: expected %s, got %s", i, id, handler.handled[i])
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDelivererStartStopsOnCancel(t *testing.T) {
	store, _ := newMockOutbox(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		NewDeliverer(store, &recordingHandler{}, nil).Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("deliverer did not stop after cancel")
	}
}

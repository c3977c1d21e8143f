package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturabot/facturabot/internal/script"
	"github.com/facturabot/facturabot/internal/session"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
	fail bool
}

func (f *fakeNotifier) Send(ctx context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return errors.New("transport down")
	}

	f.sent = append(f.sent, body)
	return nil
}

func (f *fakeNotifier) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeSubmitter struct {
	mu        sync.Mutex
	calls     int
	gotUser   string
	gotFields map[string]string
	message   string
	err       error
}

func (f *fakeSubmitter) Submit(ctx context.Context, userID string, fields map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.gotUser = userID
	f.gotFields = fields
	return f.message, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngine(t *testing.T) (*Engine, *session.MemoryStore, *fakeNotifier, *fakeSubmitter) {
	t.Helper()

	store := session.NewMemoryStore()
	notifier := &fakeNotifier{}
	submitter := &fakeSubmitter{message: "✅ Factura emitida.\nUUID: TEST-UUID\nVerificación SAT: https://sat/x"}
	eng := New(store, script.Default(), notifier, submitter, NewKeyedMutex(), testLogger(), "")

	return eng, store, notifier, submitter
}

const testUser = "5215512345678"

func TestHandleMessage_TriggerStartsConversation(t *testing.T) {
	testCases := []string{
		"quiero una factura",
		"FACTURA",
		"Necesito FACTURAR esto", // containment, any casing
	}

	for _, text := range testCases {
		t.Run(text, func(t *testing.T) {
			eng, store, notifier, _ := testEngine(t)
			ctx := context.Background()

			require.NoError(t, eng.HandleMessage(ctx, testUser, text))

			s, err := store.Get(ctx, testUser)
			require.NoError(t, err)
			assert.Equal(t, 1, s.Step)
			assert.Empty(t, s.Fields)

			msgs := notifier.messages()
			require.Len(t, msgs, 1)
			assert.Contains(t, msgs[0], "RFC")
		})
	}
}

func TestHandleMessage_IdleNonTriggerIsSilent(t *testing.T) {
	eng, store, notifier, submitter := testEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.HandleMessage(ctx, testUser, "hola, buenos días"))

	_, err := store.Get(ctx, testUser)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	assert.Empty(t, notifier.messages())
	assert.Zero(t, submitter.calls)
}

func TestHandleMessage_FullRoundTrip(t *testing.T) {
	eng, store, notifier, submitter := testEngine(t)
	ctx := context.Background()

	answers := []string{
		"XAXX010101000", "64000", "612", "Juan Pérez",
		"G03", "PUE", "03", "Consultoría", "1008.62",
	}

	require.NoError(t, eng.HandleMessage(ctx, testUser, "quiero una factura"))

	n := script.Default().Len()
	for i, answer := range answers {
		require.NoError(t, eng.HandleMessage(ctx, testUser, answer))

		s, err := store.Get(ctx, testUser)
		if i < len(answers)-1 {
			require.NoError(t, err)
			assert.Equal(t, i+2, s.Step)
			assert.GreaterOrEqual(t, s.Step, 0)
			assert.LessOrEqual(t, s.Step, n)
			assert.Len(t, s.Fields, i+1)
		} else {
			// finalization removes the session in the same turn
			assert.ErrorIs(t, err, session.ErrSessionNotFound)
		}
	}

	require.Equal(t, 1, submitter.calls)
	assert.Equal(t, testUser, submitter.gotUser)
	assert.Equal(t, map[string]string{
		"rfc":         "XAXX010101000",
		"cp":          "64000",
		"regimen":     "612",
		"nombre":      "Juan Pérez",
		"uso":         "G03",
		"metodo":      "PUE",
		"forma":       "03",
		"descripcion": "Consultoría",
		"importe":     "1008.62",
	}, submitter.gotFields)

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	msgs := notifier.messages()
	// one prompt per step plus the confirmation
	require.Len(t, msgs, 10)
	assert.Contains(t, msgs[len(msgs)-1], "TEST-UUID")
}

func TestHandleMessage_BlankAnswerAdvancesWithoutRecording(t *testing.T) {
	eng, store, _, _ := testEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.HandleMessage(ctx, testUser, "factura"))
	require.NoError(t, eng.HandleMessage(ctx, testUser, "   "))

	s, err := store.Get(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Step)
	assert.NotContains(t, s.Fields, "rfc")
}

func TestHandleMessage_SubmissionFailureStillCleansUpAndNotifies(t *testing.T) {
	eng, store, notifier, submitter := testEngine(t)
	submitter.message = "❌ No se pudo emitir tu factura. Escribe \"factura\" para iniciar de nuevo."
	submitter.err = errors.New("upstream down")
	ctx := context.Background()

	require.NoError(t, eng.HandleMessage(ctx, testUser, "factura"))
	for i := 0; i < script.Default().Len(); i++ {
		err := eng.HandleMessage(ctx, testUser, fmt.Sprintf("respuesta-%d", i+1))
		if i == script.Default().Len()-1 {
			assert.Error(t, err)
		} else {
			require.NoError(t, err)
		}
	}

	_, err := store.Get(ctx, testUser)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	msgs := notifier.messages()
	assert.Contains(t, msgs[len(msgs)-1], "No se pudo emitir")
}

func TestHandleMessage_NotifierFailureIsSwallowed(t *testing.T) {
	eng, store, notifier, _ := testEngine(t)
	notifier.fail = true
	ctx := context.Background()

	require.NoError(t, eng.HandleMessage(ctx, testUser, "factura"))

	s, err := store.Get(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Step)
}

func TestHandleMessage_CorruptStepDropsSession(t *testing.T) {
	eng, store, _, _ := testEngine(t)
	ctx := context.Background()

	bad := session.New(testUser)
	bad.Step = 99
	require.NoError(t, store.Put(ctx, testUser, bad))

	err := eng.HandleMessage(ctx, testUser, "whatever")
	assert.Error(t, err)

	_, err = store.Get(ctx, testUser)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestHandleMessage_ConcurrentDeliveriesAreSerialized(t *testing.T) {
	eng, store, _, _ := testEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.HandleMessage(ctx, testUser, "factura"))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(answer string) {
			defer wg.Done()
			_ = eng.HandleMessage(ctx, testUser, answer)
		}(fmt.Sprintf("respuesta-%d", i))
	}
	wg.Wait()

	// Serialized turns consume one step each. Without the per-user lock both
	// turns would read step 1 and both would advance to step 2.
	s, err := store.Get(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Step)
	assert.Len(t, s.Fields, 2)
}

func TestKeyedMutex_BlocksUntilReleased(t *testing.T) {
	locker := NewKeyedMutex()
	ctx := context.Background()

	release, err := locker.Acquire(ctx, testUser)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := locker.Acquire(ctx, testUser)
		assert.NoError(t, err)
		r()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never completed after release")
	}
}

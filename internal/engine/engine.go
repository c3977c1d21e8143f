// Package engine implements the per-user conversation state machine. Each
// inbound message is validated against the session's current step and either
// starts the flow, records an answer and advances, or triggers finalization.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	apperrors "github.com/facturabot/facturabot/internal/errors"
	"github.com/facturabot/facturabot/internal/script"
	"github.com/facturabot/facturabot/internal/session"
)

// DefaultTrigger starts a conversation when contained in an idle user's
// message, case-insensitively.
const DefaultTrigger = "factura"

var stepRecorder = func(from, to int) {}

// RegisterStepRecorder allows external packages to observe step transitions.
func RegisterStepRecorder(recorder func(from, to int)) {
	if recorder == nil {
		stepRecorder = func(int, int) {}
		return
	}

	stepRecorder = recorder
}

// Notifier sends a single outbound text to the user. Failures are logged
// and swallowed; a lost prompt or confirmation never corrupts the flow.
type Notifier interface {
	Send(ctx context.Context, to, body string) error
}

// Submitter finalizes a completed field set and returns the outbound result
// message. It is invoked synchronously, after the session has been removed.
type Submitter interface {
	Submit(ctx context.Context, userID string, fields map[string]string) (string, error)
}

// Engine drives one user's turn end to end.
type Engine struct {
	store     session.Store
	script    *script.Script
	notifier  Notifier
	submitter Submitter
	locker    Locker
	log       *slog.Logger
	trigger   string
}

// New builds an Engine. An empty trigger falls back to DefaultTrigger.
func New(store session.Store, s *script.Script, notifier Notifier, submitter Submitter, locker Locker, log *slog.Logger, trigger string) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if trigger == "" {
		trigger = DefaultTrigger
	}
	if locker == nil {
		locker = NewKeyedMutex()
	}

	return &Engine{
		store:     store,
		script:    s,
		notifier:  notifier,
		submitter: submitter,
		locker:    locker,
		log:       log,
		trigger:   strings.ToLower(trigger),
	}
}

// HandleMessage processes one inbound message for one user. The turn holds
// the user's conversation lock for its whole duration, including the
// submission calls, so a colliding delivery can never double-advance or
// double-submit.
func (e *Engine) HandleMessage(ctx context.Context, from, text string) error {
	release, err := e.locker.Acquire(ctx, from)
	if err != nil {
		return err
	}
	defer release()

	text = strings.TrimSpace(text)

	s, err := e.store.Get(ctx, from)
	if err != nil {
		if !errors.Is(err, session.ErrSessionNotFound) {
			return fmt.Errorf("load session: %w", err)
		}
		s = session.New(from)
	}

	if s.Step == 0 {
		return e.handleIdle(ctx, s, text)
	}

	return e.handleCollecting(ctx, s, text)
}

// handleIdle starts the flow on a trigger match. Anything else is
// intentional silence: no session is created and nothing is sent.
func (e *Engine) handleIdle(ctx context.Context, s *session.Session, text string) error {
	if !strings.Contains(strings.ToLower(text), e.trigger) {
		return nil
	}

	if err := e.advance(ctx, s, 1); err != nil {
		return err
	}

	e.prompt(ctx, s.UserID, 1)
	return nil
}

// handleCollecting records the answer for the current step and either asks
// the next question or finalizes the conversation.
func (e *Engine) handleCollecting(ctx context.Context, s *session.Session, text string) error {
	step, err := e.script.At(s.Step)
	if err != nil {
		// a stored cursor outside 1..N means the session is corrupt
		if delErr := e.store.Delete(ctx, s.UserID); delErr != nil {
			e.log.Error("failed to drop corrupt session",
				slog.String("user_id", s.UserID), slog.Any("error", delErr))
		}
		return apperrors.NewStateError(fmt.Sprintf("session for %s had invalid step %d", s.UserID, s.Step))
	}

	if text != "" {
		s.Fields[step.Key] = text
	} else {
		// The cursor advances even without an answer, leaving the field
		// unset. Kept from the original flow; logged so skipped fields are
		// visible in operation.
		e.log.Warn("blank answer, field skipped",
			slog.String("user_id", s.UserID), slog.String("field", step.Key))
	}

	if s.Step < e.script.Len() {
		next := s.Step + 1
		if err := e.advance(ctx, s, next); err != nil {
			return err
		}

		e.prompt(ctx, s.UserID, next)
		return nil
	}

	return e.finalize(ctx, s)
}

// finalize removes the session before the submission runs; no session may
// survive in a completed-but-unprocessed state, and a failed submission
// must force a fresh start rather than a resume.
func (e *Engine) finalize(ctx context.Context, s *session.Session) error {
	if err := e.store.Delete(ctx, s.UserID); err != nil {
		return fmt.Errorf("delete completed session: %w", err)
	}
	stepRecorder(s.Step, 0)

	message, err := e.submitter.Submit(ctx, s.UserID, s.Fields)
	if err != nil {
		e.log.Error("submission failed",
			slog.String("user_id", s.UserID), slog.Any("error", err))
	}

	if message != "" {
		e.send(ctx, s.UserID, message)
	}

	return err
}

func (e *Engine) advance(ctx context.Context, s *session.Session, to int) error {
	from := s.Step
	s.Step = to

	if err := e.store.Put(ctx, s.UserID, s); err != nil {
		return fmt.Errorf("persist session at step %d: %w", to, err)
	}

	stepRecorder(from, to)
	return nil
}

func (e *Engine) prompt(ctx context.Context, userID string, stepIndex int) {
	step, err := e.script.At(stepIndex)
	if err != nil {
		e.log.Error("prompt for unknown step",
			slog.String("user_id", userID), slog.Int("step", stepIndex), slog.Any("error", err))
		return
	}

	e.send(ctx, userID, step.Prompt)
}

func (e *Engine) send(ctx context.Context, userID, body string) {
	if err := e.notifier.Send(ctx, userID, body); err != nil {
		e.log.Error("failed to notify user",
			slog.String("user_id", userID), slog.Any("error", err))
	}
}

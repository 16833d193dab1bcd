package triggers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/poslab/catsync/internal/events"
	"github.com/poslab/catsync/internal/models"
)

// SyncRequester is the only part of the engine the trigger adapters depend
// on; the background-execution mechanism stays decoupled from orchestration.
type SyncRequester interface {
	RequestSync(ctx context.Context, reason models.Reason) (*models.RunOutcome, error)
}

// PushHandler adapts OS-delivered push notifications to sync requests. The
// payload is inspected only for its catalog-change marker; the engine
// re-derives truth from its cursor, not from notification contents.
type PushHandler struct {
	engine SyncRequester
	logger *events.Logger

	key    []byte // HMAC key; empty disables signature checks
	budget time.Duration
}

// NewPushHandler creates a push trigger adapter. signatureKey is hex; an
// empty key disables verification. budget is the OS background-execution
// allowance; zero means wait for the run.
func NewPushHandler(engine SyncRequester, signatureKey string, budget time.Duration, logger *events.Logger) (*PushHandler, error) {
	var key []byte
	if signatureKey != "" {
		var err error
		key, err = hex.DecodeString(signatureKey)
		if err != nil {
			return nil, fmt.Errorf("decode push signature key: %w", err)
		}
	}

	return &PushHandler{
		engine: engine,
		logger: logger.WithField("component", "push_trigger"),
		key:    key,
		budget: budget,
	}, nil
}

// HandlePush processes one notification payload. Unrecognized payloads are
// logged and dropped; recognized ones request a sync. When the run outlives
// the background budget the handler returns a nil outcome and lets the run
// finish on its own — the next trigger resumes from the committed cursor.
func (h *PushHandler) HandlePush(ctx context.Context, payload []byte, signature string) (*models.RunOutcome, error) {
	if len(h.key) > 0 {
		if err := h.verify(payload, signature); err != nil {
			return nil, err
		}
	}

	signal, err := models.DecodePushPayload(payload)
	if err != nil {
		h.logger.WithError(err).Warn("Undecodable push payload ignored")
		return nil, nil
	}
	if signal.Kind != models.SignalCatalogChanged {
		h.logger.WithField("marker", signal.Marker).Debug("Unrecognized push payload ignored")
		return nil, nil
	}

	h.logger.WithField("marker", signal.Marker).Info("Catalog change push received")

	if h.budget <= 0 {
		return h.engine.RequestSync(ctx, models.ReasonPush)
	}

	type result struct {
		outcome *models.RunOutcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		// Detached context: the run must not die with the OS callback.
		outcome, err := h.engine.RequestSync(context.Background(), models.ReasonPush)
		done <- result{outcome, err}
	}()

	select {
	case r := <-done:
		return r.outcome, r.err
	case <-time.After(h.budget):
		h.logger.Info("Background budget exhausted, sync continues detached")
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *PushHandler) verify(payload []byte, signature string) error {
	mac := hmac.New(sha256.New, h.key)
	mac.Write(payload)
	sum := mac.Sum(nil)

	provided, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(provided, sum) {
		h.logger.WithField("signature_len", len(signature)).Warn("Push signature mismatch")
		return fmt.Errorf("push signature mismatch")
	}
	return nil
}

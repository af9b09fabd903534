package bot

import (
	"context"
	"fmt"
	"log/slog"

	"passgate/entity"
)

// Notify renders and sends the notice for one pass owner. It satisfies
// the engine's Notifier contract: it never returns, never panics
// upward, and swallows every delivery failure after logging it.
func (t *TgBot) Notify(ownerId string, kind entity.NotifyKind, fields map[string]string) {
	defer func() {
		if r := recover(); r != nil {
			t.log.With(slog.Any("panic", r)).Error("notify dispatch panicked")
		}
	}()

	user, err := t.db.GetUserById(context.Background(), ownerId)
	if err != nil || user == nil {
		t.log.With(slog.String("owner_id", ownerId)).Debug("notify: owner not found")
		return
	}
	if user.TelegramId == 0 || !user.TelegramEnabled {
		return
	}

	msg := renderNotice(kind, fields)
	if msg == "" {
		return
	}
	t.plainResponse(user.TelegramId, msg)
}

func renderNotice(kind entity.NotifyKind, fields map[string]string) string {
	switch kind {
	case entity.NotifyVisitorArrived:
		msg := fmt.Sprintf("*Visitor arrived*: %s", Sanitize(fields["visitor"]))
		if loc := fields["location"]; loc != "" {
			msg += fmt.Sprintf(" at %s", Sanitize(loc))
		}
		return msg
	case entity.NotifyAccessGranted:
		msg := fmt.Sprintf("*Access granted*: %s", Sanitize(fields["category"]))
		if loc := fields["location"]; loc != "" {
			msg += fmt.Sprintf(" at %s", Sanitize(loc))
		}
		return msg
	case entity.NotifyPassRevoked:
		return fmt.Sprintf("*Pass revoked*: %s", Sanitize(fields["category"]))
	case entity.NotifyPaymentReceived:
		return fmt.Sprintf("*Payment received* for %s, unit %s\\. Access is active\\.",
			Sanitize(fields["service"]), Sanitize(fields["unit"]))
	}
	return ""
}

// SendAlert broadcasts an operational message to management users.
// Used as the separate channel for infrastructure failures that must
// not surface in scan responses, e.g. ledger-write errors.
func (t *TgBot) SendAlert(msg string, level slog.Level) {
	if msg == "" {
		return
	}
	t.mu.RLock()
	ids := make([]int64, len(t.mgmtIds))
	copy(ids, t.mgmtIds)
	t.mu.RUnlock()

	prefix := fmt.Sprintf("*%s* ", level.String())
	for _, id := range ids {
		t.plainResponse(id, prefix+msg)
	}
}

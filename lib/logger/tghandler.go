package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"passgate/bot"
)

// TelegramHandler mirrors qualifying records to the management chat in
// addition to the wrapped handler. It backs the operational alert path:
// failures that must not surface in API responses still reach staff.
type TelegramHandler struct {
	handler  slog.Handler
	bot      *bot.TgBot
	minLevel slog.Level
	attrs    []slog.Attr
	group    string
}

func NewTelegramHandler(handler slog.Handler, tgBot *bot.TgBot, minLevel slog.Level) *TelegramHandler {
	return &TelegramHandler{
		handler:  handler,
		bot:      tgBot,
		minLevel: minLevel,
	}
}

func (h *TelegramHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel && h.handler.Enabled(ctx, level)
}

func (h *TelegramHandler) Handle(ctx context.Context, record slog.Record) error {
	if err := h.handler.Handle(ctx, record); err != nil {
		return err
	}
	if record.Level < h.minLevel || h.bot == nil {
		return nil
	}

	var b strings.Builder
	if h.group != "" {
		fmt.Fprintf(&b, "*%s* `%s.%s`", record.Level.String(), h.group, record.Message)
	} else {
		fmt.Fprintf(&b, "*%s* `%s`", record.Level.String(), record.Message)
	}
	writeAttr := func(attr slog.Attr) {
		if attr.Key == "error" {
			fmt.Fprintf(&b, "\n%s: ```error %v ```", attr.Key, attr.Value)
			return
		}
		b.WriteString(bot.Sanitize(fmt.Sprintf("\n%s: %v", attr.Key, attr.Value)))
	}
	for _, attr := range h.attrs {
		writeAttr(attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		writeAttr(attr)
		return true
	})

	h.bot.SendAlert(b.String(), record.Level)
	return nil
}

func (h *TelegramHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &TelegramHandler{
		handler:  h.handler.WithAttrs(attrs),
		bot:      h.bot,
		minLevel: h.minLevel,
		attrs:    merged,
		group:    h.group,
	}
}

func (h *TelegramHandler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &TelegramHandler{
		handler:  h.handler.WithGroup(name),
		bot:      h.bot,
		minLevel: h.minLevel,
		attrs:    h.attrs,
		group:    group,
	}
}

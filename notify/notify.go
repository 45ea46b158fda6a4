// Package notify is the best-effort notification sink shared by every scanner.
// A message is offered to each configured delivery handle in order until one
// succeeds; when all fail the loss is logged and counted, never escalated.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/parlorworks/seatguard/guard"
	"github.com/parlorworks/seatguard/telemetry"
)

// Handle is one delivery mechanism (IRC chat, webhook, ...). Each handle may
// independently fail.
type Handle interface {
	Name() string
	Deliver(ctx context.Context, target guard.Target, message string) error
}

// Multi implements guard.Notifier over an ordered list of handles.
type Multi struct {
	Handles []Handle
}

func NewMulti(handles ...Handle) *Multi { return &Multi{Handles: handles} }

// Send tries each handle in order and stops at the first success.
func (m *Multi) Send(ctx context.Context, target guard.Target, message string) error {
	if len(m.Handles) == 0 {
		return fmt.Errorf("no notification handles configured")
	}
	var lastErr error
	for _, h := range m.Handles {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := h.Deliver(ctx, target, message); err != nil {
			slog.Warn("notification handle failed", slog.String("handle", h.Name()), slog.Any("err", err))
			lastErr = err
			continue
		}
		telemetry.Notifications.WithLabelValues("ok").Inc()
		return nil
	}
	telemetry.Notifications.WithLabelValues("lost").Inc()
	slog.Error("notification lost: all handles failed", slog.String("channel", target.Channel), slog.Any("err", lastErr))
	return fmt.Errorf("all notification handles failed: %w", lastErr)
}

// Sayer is the subset of the IRC client the chat handle needs.
type Sayer interface {
	Say(channel, text string)
}

// IRCHandle delivers to the chat channel the binding was configured from.
type IRCHandle struct {
	Client Sayer
	// DefaultChannel is used when a target carries no channel (e.g. bindings
	// created before notification targets were recorded).
	DefaultChannel string
}

func (h *IRCHandle) Name() string { return "irc" }

func (h *IRCHandle) Deliver(ctx context.Context, target guard.Target, message string) error {
	if h.Client == nil {
		return fmt.Errorf("irc client not connected")
	}
	channel := target.Channel
	if channel == "" {
		channel = h.DefaultChannel
	}
	if channel == "" {
		return fmt.Errorf("no channel for target")
	}
	if target.User != "" {
		message = "@" + target.User + " " + message
	}
	h.Client.Say(channel, message)
	return nil
}

// WebhookHandle POSTs the message as JSON to a configured URL. Optional
// fallback for operators who want notifications outside chat.
type WebhookHandle struct {
	URL        string
	HTTPClient *http.Client
}

func (h *WebhookHandle) Name() string { return "webhook" }

func (h *WebhookHandle) Deliver(ctx context.Context, target guard.Target, message string) error {
	if h.URL == "" {
		return fmt.Errorf("webhook url not configured")
	}
	payload, err := json.Marshal(map[string]string{
		"channel": target.Channel,
		"user":    target.User,
		"message": message,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	hc := h.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parlorworks/seatguard/guard"
)

type stubHandle struct {
	name      string
	err       error
	delivered []string
}

func (h *stubHandle) Name() string { return h.name }

func (h *stubHandle) Deliver(ctx context.Context, target guard.Target, message string) error {
	if h.err != nil {
		return h.err
	}
	h.delivered = append(h.delivered, message)
	return nil
}

func TestMultiStopsAtFirstSuccess(t *testing.T) {
	first := &stubHandle{name: "first"}
	second := &stubHandle{name: "second"}
	m := NewMulti(first, second)

	err := m.Send(context.Background(), guard.Target{Channel: "#arcade"}, "hello")
	require.NoError(t, err)
	require.Equal(t, []string{"hello"}, first.delivered)
	require.Empty(t, second.delivered, "later handles must not run after a success")
}

func TestMultiFallsBackToNextHandle(t *testing.T) {
	first := &stubHandle{name: "first", err: fmt.Errorf("disconnected")}
	second := &stubHandle{name: "second"}
	m := NewMulti(first, second)

	err := m.Send(context.Background(), guard.Target{Channel: "#arcade"}, "hello")
	require.NoError(t, err)
	require.Equal(t, []string{"hello"}, second.delivered)
}

func TestMultiAllHandlesFail(t *testing.T) {
	first := &stubHandle{name: "first", err: fmt.Errorf("disconnected")}
	second := &stubHandle{name: "second", err: fmt.Errorf("timeout")}
	m := NewMulti(first, second)

	err := m.Send(context.Background(), guard.Target{Channel: "#arcade"}, "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "timeout")
}

func TestMultiNoHandles(t *testing.T) {
	m := NewMulti()
	require.Error(t, m.Send(context.Background(), guard.Target{}, "hello"))
}

type fakeSayer struct {
	channel, text string
}

func (s *fakeSayer) Say(channel, text string) {
	s.channel = channel
	s.text = text
}

func TestIRCHandleMentionsUser(t *testing.T) {
	s := &fakeSayer{}
	h := &IRCHandle{Client: s}

	err := h.Deliver(context.Background(), guard.Target{Channel: "#arcade", User: "alice"}, "your account is safe")
	require.NoError(t, err)
	require.Equal(t, "#arcade", s.channel)
	require.Equal(t, "@alice your account is safe", s.text)
}

func TestIRCHandleDefaultChannel(t *testing.T) {
	s := &fakeSayer{}
	h := &IRCHandle{Client: s, DefaultChannel: "#fallback"}

	err := h.Deliver(context.Background(), guard.Target{User: "alice"}, "hi")
	require.NoError(t, err)
	require.Equal(t, "#fallback", s.channel)
}

func TestIRCHandleNoChannel(t *testing.T) {
	h := &IRCHandle{Client: &fakeSayer{}}
	require.Error(t, h.Deliver(context.Background(), guard.Target{User: "alice"}, "hi"))
}

func TestWebhookHandleDelivers(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	h := &WebhookHandle{URL: srv.URL}
	err := h.Deliver(context.Background(), guard.Target{Channel: "#arcade", User: "alice"}, "hello")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"channel": "#arcade", "user": "alice", "message": "hello"}, got)
}

func TestWebhookHandleNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	h := &WebhookHandle{URL: srv.URL}
	require.Error(t, h.Deliver(context.Background(), guard.Target{}, "hello"))
}

package ws

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatrelay/internal/agui"
	"github.com/xiaot623/gogo/chatrelay/internal/domain"
	"github.com/xiaot623/gogo/chatrelay/internal/policy"
	"github.com/xiaot623/gogo/chatrelay/internal/service"
)

const validInput = `{"threadId":"t1","runId":"r1","messages":[{"role":"user","content":"hi"}]}`

type fakeStreamer struct {
	events    []agui.Event
	block     bool
	cancelled chan error
}

func (f *fakeStreamer) Stream(ctx context.Context, in *domain.RunInput, sink service.Sink) error {
	for _, ev := range f.events {
		if err := sink(ev); err != nil {
			return &service.DeliveryError{Event: ev.Type(), Err: err}
		}
	}
	if f.block {
		<-ctx.Done()
		f.cancelled <- context.Cause(ctx)
		return ctx.Err()
	}
	return nil
}

type fakeAdmitter struct{ err error }

func (f fakeAdmitter) Admit(context.Context, *domain.RunInput) error { return f.err }

func testConfig() Config {
	return Config{
		PingInterval:   50 * time.Millisecond,
		WriteTimeout:   time.Second,
		ReadTimeout:    time.Second,
		MaxMessageSize: 1 << 16,
	}
}

func dial(t *testing.T, streamer Streamer, admitter Admitter) *websocket.Conn {
	t.Helper()
	e := echo.New()
	NewServer(testConfig(), streamer, admitter, agui.NewEncoder(agui.RationaleField), zap.NewNop()).RegisterRoutes(e)

	server := httptest.NewServer(e)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + Path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func closeCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
		return closeErr.Code
	}
}

func TestWebSocketStreamsRun(t *testing.T) {
	streamer := &fakeStreamer{events: []agui.Event{
		agui.RunStarted{ThreadID: "t1", RunID: "r1"},
		agui.StepStarted{StepName: "Searching web", Rationale: "looking"},
		agui.TextMessageChunk{MessageID: "m1", Delta: "Hi"},
		agui.RunFinished{ThreadID: "t1", RunID: "r1"},
	}}
	conn := dial(t, streamer, nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(validInput)))

	var got []agui.Event
	for range streamer.events {
		msgType, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, msgType)
		ev, err := agui.Decode(data)
		require.NoError(t, err)
		got = append(got, ev)
	}
	assert.Equal(t, streamer.events, got)
	assert.Equal(t, websocket.CloseNormalClosure, closeCode(t, conn))
}

func TestWebSocketRejectsInvalidInput(t *testing.T) {
	conn := dial(t, &fakeStreamer{}, nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"thread_id":"t1"}`)))
	assert.Equal(t, websocket.CloseInvalidFramePayloadData, closeCode(t, conn))
}

func TestWebSocketPolicyDenied(t *testing.T) {
	conn := dial(t, &fakeStreamer{}, fakeAdmitter{err: &policy.DeniedError{Reason: "nope"}})

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(validInput)))
	assert.Equal(t, websocket.ClosePolicyViolation, closeCode(t, conn))
}

func TestWebSocketClientCloseCancelsRun(t *testing.T) {
	streamer := &fakeStreamer{
		events:    []agui.Event{agui.RunStarted{ThreadID: "t1", RunID: "r1"}},
		block:     true,
		cancelled: make(chan error, 1),
	}
	conn := dial(t, streamer, nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(validInput)))
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	require.NoError(t, conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second)))
	conn.Close()

	select {
	case cause := <-streamer.cancelled:
		assert.ErrorIs(t, cause, errClientClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("run was not cancelled after client close")
	}
}

func TestWebSocketShutdownClosesConnections(t *testing.T) {
	streamer := &fakeStreamer{
		events:    []agui.Event{agui.RunStarted{ThreadID: "t1", RunID: "r1"}},
		block:     true,
		cancelled: make(chan error, 1),
	}
	e := echo.New()
	srv := NewServer(testConfig(), streamer, nil, agui.NewEncoder(""), zap.NewNop())
	srv.RegisterRoutes(e)
	server := httptest.NewServer(e)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+Path, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(validInput)))
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, 1, srv.hub.Count())

	srv.Shutdown()

	assert.Equal(t, websocket.CloseGoingAway, closeCode(t, conn))
	select {
	case <-streamer.cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("run was not cancelled on shutdown")
	}
}

func TestCloseReasonKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		name   string
		reason string
		want   string
	}{
		{name: "short", reason: "policy denied", want: "policy denied"},
		{name: "ascii over limit", reason: strings.Repeat("a", 200), want: strings.Repeat("a", maxCloseReason)},
		{name: "rune straddles limit", reason: strings.Repeat("a", 122) + "é", want: strings.Repeat("a", 122)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, closeReason(tt.reason))
		})
	}

	got := closeReason(strings.Repeat("ü", 100))
	assert.LessOrEqual(t, len(got), maxCloseReason)
	assert.True(t, utf8.ValidString(got))
}

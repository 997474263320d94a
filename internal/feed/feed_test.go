package feed

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confquest/confquest/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func balanceEvent(user string) domain.ChangeEvent {
	return domain.ChangeEvent{Type: domain.ChangeBalance, UserID: user, At: t0}
}

// ─── Hub Tests ──────────────────────────────────────────────────────────────

func TestHub_FiltersByUser(t *testing.T) {
	h := NewHub()
	mine, cancelMine := h.Subscribe("u1")
	defer cancelMine()
	all, cancelAll := h.Subscribe("")
	defer cancelAll()

	h.Publish(balanceEvent("u2"))
	h.Publish(domain.ChangeEvent{Type: domain.ChangeLike, TargetID: "post-1", At: t0})
	h.Publish(balanceEvent("u1"))

	assert.Len(t, all, 3)
	require.Len(t, mine, 2)
	assert.Equal(t, domain.ChangeLike, (<-mine).Type)
	assert.Equal(t, "u1", (<-mine).UserID)
}

func TestHub_SlowSubscriberDrops(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("")
	defer cancel()

	for i := 0; i < Buffer+10; i++ {
		h.Publish(balanceEvent("u1"))
	}
	assert.Len(t, ch, Buffer, "publish never blocks")
}

func TestHub_UnsubscribeAndClose(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("")
	assert.Equal(t, 1, h.Len())
	cancel()
	cancel()
	assert.Zero(t, h.Len())
	_, open := <-ch
	assert.False(t, open)

	other, _ := h.Subscribe("")
	h.Close()
	_, open = <-other
	assert.False(t, open)

	late, _ := h.Subscribe("")
	_, open = <-late
	assert.False(t, open, "subscribing to a closed hub yields a closed channel")
}

// ─── Transport Tests ────────────────────────────────────────────────────────

func TestSSEHandler_StreamsEvents(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(h.SSEHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?user_id=u1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	rd := bufio.NewReader(resp.Body)
	line, err := rd.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	h.Publish(balanceEvent("u2"))
	h.Publish(balanceEvent("u1"))

	var got []string
	for len(got) < 2 {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		if line = strings.TrimSpace(line); line != "" {
			got = append(got, line)
		}
	}
	assert.Equal(t, "event: balance", got[0])
	require.True(t, strings.HasPrefix(got[1], "data: "))

	var ev domain.ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(got[1], "data: ")), &ev))
	assert.Equal(t, "u1", ev.UserID)
}

func TestWSHandler_StreamsEvents(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(h.WSHandler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user_id=u1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.Len() == 1 }, time.Second, time.Millisecond)
	h.Publish(balanceEvent("u1"))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev domain.ChangeEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, domain.ChangeBalance, ev.Type)
	assert.Equal(t, "u1", ev.UserID)

	conn.Close()
	require.Eventually(t, func() bool { return h.Len() == 0 }, time.Second, time.Millisecond)
}

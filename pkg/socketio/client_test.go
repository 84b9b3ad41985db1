package socketio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const openPacket = `0{"sid":"eio-1","upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`

type fakeServer struct {
	*httptest.Server
	queries chan string
}

// newFakeServer runs script on every accepted websocket after the Engine.IO
// open packet has been sent.
func newFakeServer(t *testing.T, script func(t *testing.T, ws *websocket.Conn)) *fakeServer {
	t.Helper()
	fs := &fakeServer{queries: make(chan string, 4)}
	upgrader := websocket.Upgrader{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.queries <- r.URL.Path + "?" + r.URL.RawQuery
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		if err := ws.WriteMessage(websocket.TextMessage, []byte(openPacket)); err != nil {
			return
		}
		script(t, ws)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func readText(t *testing.T, ws *websocket.Conn) string {
	_, msg, err := ws.ReadMessage()
	if err != nil {
		return ""
	}
	return string(msg)
}

func TestDialHandshakeAndEvents(t *testing.T) {
	got := make(chan []string, 1)
	srv := newFakeServer(t, func(t *testing.T, ws *websocket.Conn) {
		var seen []string
		seen = append(seen, readText(t, ws))
		ws.WriteMessage(websocket.TextMessage, []byte(`40{"sid":"sio-1"}`))
		seen = append(seen, readText(t, ws))
		ws.WriteMessage(websocket.TextMessage, []byte(`2`))
		seen = append(seen, readText(t, ws))
		ws.WriteMessage(websocket.TextMessage, []byte(`42["hello",{"message":"Hello from backend!","timestamp":"2024-01-01T00:00:00"}]`))
		seen = append(seen, readText(t, ws))
		got <- seen
	})

	conn, err := Dial(context.Background(), Options{URL: srv.URL, ConnectTimeout: 2 * time.Second})
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "eio-1", conn.SID())
	assert.Equal(t, "/socket.io/?EIO=4&transport=websocket", <-srv.queries)

	require.NoError(t, conn.Emit("request_hello"))
	ev, err := conn.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "hello", ev.Name)
	require.Len(t, ev.Args, 1)
	assert.JSONEq(t, `{"message":"Hello from backend!","timestamp":"2024-01-01T00:00:00"}`, string(ev.Arg(0)))
	assert.Nil(t, ev.Arg(1))

	require.NoError(t, conn.Close())

	seen := <-got
	assert.Equal(t, []string{"40", `42["request_hello"]`, "3", "41"}, seen)
}

func TestDialConnectError(t *testing.T) {
	srv := newFakeServer(t, func(t *testing.T, ws *websocket.Conn) {
		readText(t, ws)
		ws.WriteMessage(websocket.TextMessage, []byte(`44{"message":"Not authorized"}`))
		readText(t, ws)
	})

	_, err := Dial(context.Background(), Options{URL: srv.URL, ConnectTimeout: 2 * time.Second})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectRefused)
	assert.Contains(t, err.Error(), "Not authorized")
}

func TestDialTimesOutWithoutAck(t *testing.T) {
	srv := newFakeServer(t, func(t *testing.T, ws *websocket.Conn) {
		readText(t, ws)
		readText(t, ws)
	})

	start := time.Now()
	_, err := Dial(context.Background(), Options{URL: srv.URL, ConnectTimeout: 200 * time.Millisecond})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDialAbortsStalledHandshakeOnCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		// never sends the open packet
		ws.ReadMessage()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err := Dial(ctx, Options{URL: srv.URL, ConnectTimeout: 5 * time.Second})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDialRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := Dial(context.Background(), Options{URL: srv.URL, ConnectTimeout: time.Second})
	assert.Error(t, err)
}

func TestReadEventServerDisconnect(t *testing.T) {
	srv := newFakeServer(t, func(t *testing.T, ws *websocket.Conn) {
		readText(t, ws)
		ws.WriteMessage(websocket.TextMessage, []byte(`40{"sid":"sio-1"}`))
		ws.WriteMessage(websocket.TextMessage, []byte(`42/admin,["ignored"]`))
		ws.WriteMessage(websocket.TextMessage, []byte(`41`))
		readText(t, ws)
	})

	conn, err := Dial(context.Background(), Options{URL: srv.URL, ConnectTimeout: 2 * time.Second})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ReadEvent()
	require.Error(t, err)
	assert.Equal(t, ReasonServerDisconnect, Reason(err))
}

func TestReadEventTransportClose(t *testing.T) {
	srv := newFakeServer(t, func(t *testing.T, ws *websocket.Conn) {
		readText(t, ws)
		ws.WriteMessage(websocket.TextMessage, []byte(`40`))
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	})

	conn, err := Dial(context.Background(), Options{URL: srv.URL, ConnectTimeout: 2 * time.Second})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ReadEvent()
	require.Error(t, err)
	assert.Equal(t, ReasonTransportClose, Reason(err))
}

func TestEndpointURL(t *testing.T) {
	u, err := endpointURL("https://arb.example.com:5000", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "wss://arb.example.com:5000/socket.io/?"))
	assert.Contains(t, u, "EIO=4")
	assert.Contains(t, u, "transport=websocket")

	_, err = endpointURL("ftp://example.com", "")
	assert.Error(t, err)
}

func TestDecodePacket(t *testing.T) {
	p, err := decodePacket([]byte(`2/chat,12["msg",1]`))
	require.NoError(t, err)
	assert.Equal(t, sioEvent, p.Type)
	assert.Equal(t, "/chat", p.Namespace)
	require.NotNil(t, p.AckID)
	assert.Equal(t, 12, *p.AckID)
	assert.Equal(t, `["msg",1]`, string(p.Data))

	p, err = decodePacket([]byte(`0`))
	require.NoError(t, err)
	assert.Equal(t, sioConnect, p.Type)
	assert.Equal(t, "/", p.Namespace)
	assert.Nil(t, p.Data)

	_, err = decodePacket([]byte(`5["bin"]`))
	assert.Error(t, err)
	_, err = decodePacket(nil)
	assert.Error(t, err)
}

func TestEncodeEvent(t *testing.T) {
	b, err := encodeEvent("/", "request_hello")
	require.NoError(t, err)
	assert.Equal(t, `42["request_hello"]`, string(b))

	b, err = encodeEvent("/feed", "subscribe", map[string]string{"pair": "BTC"})
	require.NoError(t, err)
	assert.Equal(t, `42/feed,["subscribe",{"pair":"BTC"}]`, string(b))
}

func TestDecodeEventErrors(t *testing.T) {
	_, err := decodeEvent([]byte(`[]`))
	assert.Error(t, err)
	_, err = decodeEvent([]byte(`[1]`))
	assert.Error(t, err)
	_, err = decodeEvent([]byte(`{}`))
	assert.Error(t, err)
}

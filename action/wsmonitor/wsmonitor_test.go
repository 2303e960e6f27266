package wsmonitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/types"
)

// freeAddr reserves a loopback port and releases it for the action to bind.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func startMonitor(t *testing.T) (*Action, string) {
	t.Helper()
	addr := freeAddr(t)
	comp, err := New([]byte(fmt.Sprintf("type: websocket_monitor\nlisten_addr: %s", addr)),
		component.Dependencies{})
	require.NoError(t, err)

	a := comp.(*Action)
	require.NoError(t, a.Initialize())
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Stop(time.Second) })
	return a, addr
}

func dialMonitor(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	url := "ws://" + addr + "/triggers"

	var conn *websocket.Conn
	require.Eventually(t, func() bool {
		c, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 5*time.Second, 50*time.Millisecond, "monitor never came up")
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestBroadcastsTriggers(t *testing.T) {
	a, addr := startMonitor(t)
	conn := dialMonitor(t, addr)

	require.Eventually(t, func() bool { return a.Clients() == 1 },
		5*time.Second, 10*time.Millisecond)

	trig := types.Trigger{ID: uuid.New(), Time: 3.5, DM: 42, SNR: 14.5, NHits: 2}
	require.NoError(t, a.HandleTrigger(context.Background(), trig))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	kind, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)

	var got types.Trigger
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, trig.ID, got.ID)
	assert.Equal(t, 14.5, got.SNR)
}

func TestMultipleClients(t *testing.T) {
	a, addr := startMonitor(t)
	c1 := dialMonitor(t, addr)
	c2 := dialMonitor(t, addr)

	require.Eventually(t, func() bool { return a.Clients() == 2 },
		5*time.Second, 10*time.Millisecond)

	require.NoError(t, a.HandleTrigger(context.Background(), types.Trigger{ID: uuid.New()}))

	for _, conn := range []*websocket.Conn{c1, c2} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, _, err := conn.ReadMessage()
		require.NoError(t, err)
	}
}

func TestBroadcastWithNoClients(t *testing.T) {
	a, _ := startMonitor(t)
	assert.NoError(t, a.HandleTrigger(context.Background(), types.Trigger{ID: uuid.New()}))
}

func TestStopDisconnectsClients(t *testing.T) {
	a, addr := startMonitor(t)
	conn := dialMonitor(t, addr)

	require.Eventually(t, func() bool { return a.Clients() == 1 },
		5*time.Second, 10*time.Millisecond)
	require.NoError(t, a.Stop(time.Second))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestNewRequiresListenAddr(t *testing.T) {
	_, err := New([]byte("type: websocket_monitor"), component.Dependencies{})
	assert.Error(t, err)
}

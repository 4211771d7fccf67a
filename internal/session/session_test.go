package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-executor/internal/events"
	"signal-executor/internal/signal"
	"signal-executor/pkg/venue"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func listen(t *testing.T) (string, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	conns := make(chan net.Conn, 4)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			conns <- c
		}
	}()
	return ln.Addr().String(), conns
}

func testConfig(addr string) Config {
	return Config{
		Addr:              addr,
		ReconnectInterval: 5 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StaleAfter:        time.Minute,
		IOTimeout:         time.Second,
		ReadWindow:        20 * time.Millisecond,
		MaxFrameBytes:     1024,
		Info:              Info{InstanceID: "abc123", Name: "test", StrategyTag: 7, Version: "dev"},
	}
}

func readEnvelope(t *testing.T, c net.Conn) signal.Envelope {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	raw, err := ReadFrame(c, 1<<20)
	require.NoError(t, err)
	var env signal.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func connected(t *testing.T) (*Manager, net.Conn) {
	t.Helper()
	addr, conns := listen(t)
	m := New(testConfig(addr), nil, nil)
	m.Service(context.Background(), nil, t0)
	require.True(t, m.Connected())

	var peer net.Conn
	select {
	case peer = <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
	}
	t.Cleanup(func() { peer.Close() })
	env := readEnvelope(t, peer)
	require.Equal(t, signal.TypeEAInfo, env.Type)
	t.Cleanup(func() { m.Close() })
	return m, peer
}

func drainUntil(t *testing.T, m *Manager, now time.Time, want int) [][]byte {
	t.Helper()
	var frames [][]byte
	require.Eventually(t, func() bool {
		frames = append(frames, m.Drain(now)...)
		return len(frames) >= want
	}, 2*time.Second, 10*time.Millisecond)
	return frames
}

func TestConnectRegistersInstance(t *testing.T) {
	addr, conns := listen(t)
	bus := events.NewBus()
	states, unsub := bus.Subscribe(events.EventSessionState, 4)
	defer unsub()

	m := New(testConfig(addr), bus, nil)
	defer m.Close()
	assert.Equal(t, StateDisconnected, m.State())
	m.Service(context.Background(), nil, t0)
	assert.Equal(t, StateConnected, m.State())

	peer := <-conns
	defer peer.Close()
	env := readEnvelope(t, peer)
	assert.Equal(t, signal.TypeEAInfo, env.Type)
	var info Info
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, "abc123", info.InstanceID)
	assert.Equal(t, int64(7), info.StrategyTag)
	assert.Equal(t, t0.Unix(), env.Timestamp.Unix())

	require.Len(t, states, 2)
	assert.Equal(t, "connecting", (<-states).(Status).State)
	assert.Equal(t, "connected", (<-states).(Status).State)
	assert.Equal(t, 1, m.Status().Reconnects)
}

func TestHeartbeatCarriesAccountStatus(t *testing.T) {
	m, peer := connected(t)
	snap := &venue.AccountSnapshot{Balance: 10000, Equity: 9950}

	m.Service(context.Background(), snap, t0.Add(5*time.Second))
	m.Service(context.Background(), snap, t0.Add(10*time.Second))

	hb := readEnvelope(t, peer)
	assert.Equal(t, signal.TypeHeartbeat, hb.Type)
	status := readEnvelope(t, peer)
	assert.Equal(t, signal.TypeAccountStatus, status.Type)
	var got venue.AccountSnapshot
	require.NoError(t, json.Unmarshal(status.Data, &got))
	assert.Equal(t, 9950.0, got.Equity)
	assert.Equal(t, t0.Add(10*time.Second), m.Status().LastHeartbeatSent)
}

func TestDrainKeepsPartialFrames(t *testing.T) {
	m, peer := connected(t)
	frame := EncodeFrame([]byte(`{"type":"SIGNAL"}`))

	_, err := peer.Write(frame[:7])
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, m.Drain(t0))

	_, err = peer.Write(append(frame[7:], EncodeFrame([]byte("second"))...))
	require.NoError(t, err)
	frames := drainUntil(t, m, t0, 2)
	assert.Equal(t, `{"type":"SIGNAL"}`, string(frames[0]))
	assert.Equal(t, "second", string(frames[1]))
	assert.True(t, m.Connected())
}

func TestOversizedFrameDisconnects(t *testing.T) {
	m, peer := connected(t)
	_, err := peer.Write([]byte{0, 0, 0x10, 0})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		assert.Empty(t, m.Drain(t0))
		return !m.Connected()
	}, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, m.Send(signal.TypeHeartbeat, nil, t0), ErrNotConnected)
}

func TestPeerCloseDisconnects(t *testing.T) {
	m, peer := connected(t)
	require.NoError(t, peer.Close())
	require.Eventually(t, func() bool {
		m.Drain(t0)
		return m.State() == StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStaleConnectionIsDropped(t *testing.T) {
	m, _ := connected(t)
	m.Service(context.Background(), nil, t0.Add(61*time.Second))
	assert.Equal(t, StateDisconnected, m.State())
}

func TestReconnectBackoff(t *testing.T) {
	m := New(testConfig("decision:9090"), nil, nil)
	dials := 0
	m.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		dials++
		return nil, errors.New("connection refused")
	}

	ctx := context.Background()
	m.Service(ctx, nil, t0)
	assert.Equal(t, 1, dials)
	assert.Equal(t, StateDisconnected, m.State())

	m.Service(ctx, nil, t0.Add(4*time.Second))
	assert.Equal(t, 1, dials, "retry waits for the reconnect interval")

	m.Service(ctx, nil, t0.Add(5*time.Second))
	assert.Equal(t, 2, dials)
	assert.Nil(t, m.Drain(t0), "nothing is read while disconnected")
}

func TestSplitFrames(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(EncodeFrame([]byte("a")))
	buf.Write(EncodeFrame(nil))
	buf.Write(EncodeFrame([]byte("tail"))[:5])

	frames, rest, err := splitFrames(buf.Bytes(), 16)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "a", string(frames[0]))
	assert.Empty(t, frames[1])
	assert.Len(t, rest, 5)

	_, _, err = splitFrames(EncodeFrame(make([]byte, 17)), 16)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrame(t *testing.T) {
	r := bytes.NewReader(EncodeFrame([]byte("hello")))
	got, err := ReadFrame(r, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	_, err = ReadFrame(bytes.NewReader(EncodeFrame([]byte("hello"))), 3)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestInstanceIDIsStable(t *testing.T) {
	a := InstanceID("signal-executor")
	assert.NotEmpty(t, a)
	if len(a) == 16 {
		assert.Equal(t, a, InstanceID("signal-executor"))
	}
}

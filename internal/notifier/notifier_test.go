package notifier

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/glimpse/internal/errors"
	"github.com/conneroisu/glimpse/internal/logging"
	"github.com/conneroisu/glimpse/internal/metrics"
	"github.com/conneroisu/glimpse/internal/ports"
)

// listen starts an editor stand-in that forwards every received connection's
// bytes on the returned channel.
func listen(t *testing.T) (string, <-chan []byte) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	received := make(chan []byte, 16)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			data, _ := io.ReadAll(conn)
			conn.Close()
			received <- data
		}
	}()
	return ln.Addr().String(), received
}

func TestPayload(t *testing.T) {
	assert.Equal(t, "{\"line\": 0}\n", string(Payload(0)))
	assert.Equal(t, "{\"line\": 42}\n", string(Payload(42)))
	assert.Equal(t, "{\"line\": 4294967295}\n", string(Payload(4294967295)))
}

func TestDefaultAddr(t *testing.T) {
	assert.Equal(t, ports.NotifierAddr(), New("", nil, nil).Addr())
}

func TestLineClickedDelivers(t *testing.T) {
	addr, received := listen(t)
	n := New(addr, nil, nil)

	n.LineClicked(context.Background(), 17)

	select {
	case data := <-received:
		assert.Equal(t, "{\"line\": 17}\n", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("editor received nothing")
	}
}

func TestLineClickedAsync(t *testing.T) {
	addr, received := listen(t)
	n := New(addr, nil, nil)

	for _, line := range []uint32{1, 2, 3} {
		n.LineClickedAsync(line)
	}
	n.Wait()

	got := make(map[string]bool)
	for i := 0; i < 3; i++ {
		select {
		case data := <-received:
			got[string(data)] = true
		case <-time.After(2 * time.Second):
			t.Fatal("missing notification")
		}
	}
	assert.True(t, got["{\"line\": 2}\n"])
	assert.Len(t, got, 3)
}

func TestLineClickedNoListenerIsLogged(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LevelDebug, Format: "text", Output: &buf})
	m := metrics.New()
	n := New(addr, logger, m)

	assert.NotPanics(t, func() { n.LineClicked(context.Background(), 5) })

	line, err := bufio.NewReader(&buf).ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "level=WARN")
	assert.Contains(t, line, "Could not notify editor")
	assert.Contains(t, line, "line=5")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifierFailuresTotal.WithLabelValues(ReasonConnect)))
}

func TestLineClickedCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := metrics.New()
	n := New("127.0.0.1:1", nil, m)
	n.LineClicked(ctx, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifierFailuresTotal.WithLabelValues(ReasonConnect)))
}

func TestSendReportsConnectError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	err = New(addr, nil, nil).Send(context.Background(), 9)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotifyConnect, errors.CodeOf(err))
}

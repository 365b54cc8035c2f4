// Package notifier tells the external editor which source line the user
// clicked in the preview. The editor listens on a loopback TCP port and
// expects one JSON line per connection.
package notifier

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/conneroisu/glimpse/internal/errors"
	"github.com/conneroisu/glimpse/internal/logging"
	"github.com/conneroisu/glimpse/internal/metrics"
	"github.com/conneroisu/glimpse/internal/ports"
)

// Failure reasons recorded in metrics.
const (
	ReasonConnect = "connect"
	ReasonWrite   = "write"
)

// Payload returns the exact bytes sent for a click on line.
func Payload(line uint32) []byte {
	return fmt.Appendf(nil, "{\"line\": %d}\n", line)
}

// Notifier sends line-click notifications. Delivery is best effort: there
// is no retry and failures are only logged.
type Notifier struct {
	addr    string
	dialer  net.Dialer
	logger  logging.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

// New creates a notifier dialing addr. Empty addr uses the default editor
// listener address.
func New(addr string, logger logging.Logger, m *metrics.Metrics) *Notifier {
	if addr == "" {
		addr = ports.NotifierAddr()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Notifier{
		addr:    addr,
		logger:  logger.WithComponent("notifier"),
		metrics: m,
	}
}

// Addr returns the dial target.
func (n *Notifier) Addr() string {
	return n.addr
}

// LineClicked connects, writes one payload line and closes. It never
// returns an error and never panics; connection and write failures are
// logged as warnings.
func (n *Notifier) LineClicked(ctx context.Context, line uint32) {
	if err := n.Send(ctx, line); err != nil {
		n.logger.Warn(ctx, err, "Could not notify editor", "line", line, "addr", n.addr)
	}
}

// LineClickedAsync runs LineClicked on its own goroutine.
func (n *Notifier) LineClickedAsync(line uint32) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.LineClicked(context.Background(), line)
	}()
}

// Wait blocks until every async notification has finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// Send delivers one notification and reports ERR_NOTIFY_CONNECT or
// ERR_NOTIFY_WRITE on failure.
func (n *Notifier) Send(ctx context.Context, line uint32) error {
	conn, err := n.dialer.DialContext(ctx, "tcp", n.addr)
	if err != nil {
		n.metrics.NotifierFailure(ReasonConnect)
		return errors.NewNetworkError(errors.ErrCodeNotifyConnect, "could not connect to editor listener", err)
	}
	defer conn.Close()

	if _, err := conn.Write(Payload(line)); err != nil {
		n.metrics.NotifierFailure(ReasonWrite)
		return errors.NewNetworkError(errors.ErrCodeNotifyWrite, "failed to send line number", err)
	}

	n.logger.Debug(ctx, "Editor notified", "line", line)
	return nil
}

// Package report pushes per-cycle inspection verdicts to the remote line
// controller over a plain TCP line protocol and listens for controller
// commands on the same connection.
package report

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var ErrNotConnected = errors.New("report: not connected")

const (
	defaultRetryInterval = 5 * time.Second
	dialTimeout          = 5 * time.Second
)

// LineHandler receives one inbound controller line, stripped of line
// endings and surrounding whitespace.
type LineHandler func(line string)

// Reporter is a TCP client for the line controller. Verdict lines go out as
// `OK,<payload>` / `FAIL,<payload>` (bare `OK`/`FAIL` without a payload).
// Once a connection has been established, a drop arms a fixed-interval
// reconnect loop; before the first successful connect, failures stay with
// the caller.
type Reporter struct {
	addr   string
	retry  time.Duration
	logger *slog.Logger

	closed atomic.Bool
	done   chan struct{}

	mu       sync.Mutex
	conn     net.Conn
	handler  LineHandler
	everUp   bool
	retrying bool
}

func NewReporter(addr string, retry time.Duration, logger *slog.Logger) *Reporter {
	if retry <= 0 {
		retry = defaultRetryInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		addr:   addr,
		retry:  retry,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// OnLine registers the handler for inbound controller lines. Passing nil
// drops inbound lines after logging.
func (r *Reporter) OnLine(h LineHandler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

func (r *Reporter) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

// Connect dials the controller and starts the inbound reader. Connecting an
// already connected reporter is a no-op.
func (r *Reporter) Connect() error {
	if r.closed.Load() {
		return fmt.Errorf("report: client closed")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", r.addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("connect controller %s: %w", r.addr, err)
	}
	r.conn = conn
	r.everUp = true
	r.retrying = false
	r.logger.Info("controller connected", "addr", r.addr)
	go r.readLoop(conn)
	return nil
}

// SendOK reports a passing cycle, with the decoded payload when present.
func (r *Reporter) SendOK(payload string) error {
	return r.sendLine(verdictLine("OK", payload))
}

// SendFail reports a failing cycle.
func (r *Reporter) SendFail(payload string) error {
	return r.sendLine(verdictLine("FAIL", payload))
}

func verdictLine(verdict, payload string) string {
	if payload == "" {
		return verdict
	}
	return verdict + "," + payload
}

func (r *Reporter) sendLine(line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return ErrNotConnected
	}
	if _, err := r.conn.Write([]byte(line + "\n")); err != nil {
		r.conn.Close()
		r.conn = nil
		r.armReconnectLocked()
		return fmt.Errorf("send %q: %w", line, err)
	}
	r.logger.Debug("controller line sent", "line", line)
	return nil
}

// Close stops the reader and the reconnect loop. The reporter cannot be
// reused afterwards.
func (r *Reporter) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(r.done)
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (r *Reporter) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Split(scanControllerLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r.logger.Debug("controller line received", "line", line)
		r.mu.Lock()
		h := r.handler
		r.mu.Unlock()
		if h != nil {
			h(line)
		}
	}
	if err := scanner.Err(); err != nil && !r.closed.Load() {
		r.logger.Warn("controller read error", "error", err)
	}
	r.connLost(conn)
}

// connLost clears the connection the reader was serving and arms the
// reconnect loop. A reader racing a newer connection leaves it alone.
func (r *Reporter) connLost(conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != conn {
		return
	}
	r.conn.Close()
	r.conn = nil
	if !r.closed.Load() {
		r.logger.Warn("controller connection lost", "addr", r.addr)
	}
	r.armReconnectLocked()
}

func (r *Reporter) armReconnectLocked() {
	if r.closed.Load() || !r.everUp || r.retrying {
		return
	}
	r.retrying = true
	go r.reconnectLoop()
}

func (r *Reporter) reconnectLoop() {
	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			if err := r.Connect(); err != nil {
				r.logger.Warn("controller reconnect failed", "addr", r.addr, "error", err)
				continue
			}
			return
		}
	}
}

// scanControllerLines splits on any of CR, LF or CRLF so controllers with
// either convention parse the same.
func scanControllerLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

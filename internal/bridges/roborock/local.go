package roborock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-roborock/internal/roborock/protocol"
)

// Defaults for the local socket transport.
const (
	// DefaultLocalPort is the TCP port Roborock devices listen on.
	DefaultLocalPort = 58867

	// DefaultPingInterval is the keep-alive period.
	DefaultPingInterval = 5 * time.Second

	// DefaultWatchdogInterval is how often the connection is checked and
	// reopened if it has gone away.
	DefaultWatchdogInterval = time.Hour

	// defaultLocalConnectTimeout bounds the TCP dial.
	defaultLocalConnectTimeout = 10 * time.Second

	// defaultLocalWriteTimeout bounds a single frame write.
	defaultLocalWriteTimeout = 5 * time.Second

	// readBufferSize is the size of each socket read.
	readBufferSize = 4096

	// maxReassemblyBuffer caps buffered bytes that never form a complete
	// message.
	maxReassemblyBuffer = 1 << 20
)

// LocalConfig holds the settings for one device's local connection.
type LocalConfig struct {
	// DUID is the device this connection belongs to. Required.
	DUID string

	// Host is the device's LAN address. Required.
	Host string

	// Port defaults to DefaultLocalPort.
	Port int

	// ConnectTimeout bounds the dial. Default: 10 seconds.
	ConnectTimeout time.Duration

	// WriteTimeout bounds each frame write. Default: 5 seconds.
	WriteTimeout time.Duration

	// PingInterval defaults to DefaultPingInterval.
	PingInterval time.Duration

	// WatchdogInterval defaults to DefaultWatchdogInterval.
	WatchdogInterval time.Duration
}

func (c *LocalConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultLocalPort
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultLocalConnectTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaultLocalWriteTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.WatchdogInterval == 0 {
		c.WatchdogInterval = DefaultWatchdogInterval
	}
}

// LocalClient talks to one device over its LAN socket.
//
// Frames are sent with a 4-byte big-endian length prefix. Inbound bytes are
// buffered until the buffer holds only whole segments, then every segment is
// decoded on its own.
//
// Lifecycle:
//   - Connect dials, sends hello, starts the ping ticker and notifies
//     listeners. It also starts the watchdog, which keeps running after a
//     failed dial.
//   - A read error marks the client disconnected and notifies listeners.
//     The client does not redial until the next watchdog tick.
//   - Disconnect stops the watchdog and the ping ticker, waits for them,
//     then closes the socket.
//
// Thread Safety: All methods are safe for concurrent use.
type LocalClient struct {
	*baseClient

	cfg     LocalConfig
	address string

	// lifecycleMu serialises Connect, Disconnect and watchdog reconnects.
	lifecycleMu sync.Mutex
	ping        *ticker
	watchdog    *ticker

	connMu sync.RWMutex
	conn   net.Conn

	writeMu     sync.Mutex
	writeFailed atomic.Bool

	// closing is set while the client closes its own socket, so the reader
	// does not report the resulting error.
	closing  atomic.Bool
	readerWG sync.WaitGroup
}

// NewLocalClient creates an unconnected client for one device. The device
// must be registered before Connect, since the hello frame is built from
// its protocol version.
func NewLocalClient(cfg LocalConfig, opts ClientOptions) (*LocalClient, error) {
	if cfg.DUID == "" {
		return nil, errors.New("roborock: local client requires a duid")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("roborock: local client for %s requires a host", cfg.DUID)
	}
	cfg.applyDefaults()

	c := &LocalClient{
		cfg:     cfg,
		address: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
	}
	base, err := newBaseClient("local:"+cfg.DUID, opts, c)
	if err != nil {
		return nil, err
	}
	c.baseClient = base
	return c, nil
}

// DUID returns the device this client is bound to.
func (c *LocalClient) DUID() string {
	return c.cfg.DUID
}

// Address returns the host:port the client dials.
func (c *LocalClient) Address() string {
	return c.address
}

// Connect opens the socket. Calling Connect on a connected client is a
// no-op. The watchdog is started even when the dial fails.
func (c *LocalClient) Connect(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.watchdog == nil {
		c.watchdog = startTicker(c.cfg.WatchdogInterval, c.checkConnection)
	}
	if c.IsConnected() {
		return nil
	}
	// A socket dropped by the device leaves its ping ticker and conn behind.
	if c.conn != nil || c.ping != nil {
		c.teardown()
	}
	return c.open(ctx)
}

// Disconnect stops both tickers, closes the socket and fails every pending
// Get with ErrClientClosed.
func (c *LocalClient) Disconnect() error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.watchdog.Stop()
	c.watchdog = nil

	wasConnected := c.IsConnected()
	c.teardown()
	c.pending.rejectAll(ErrClientClosed)

	if wasConnected {
		c.logger.Info("local connection closed", "duid", c.cfg.DUID, "address", c.address)
		c.notifyDisconnected(nil)
	}
	return nil
}

// open dials the device and brings the session up. Caller holds lifecycleMu.
func (c *LocalClient) open(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", c.address)
	if err != nil {
		c.setState(StateDisconnected)
		c.errorsTotal.Add(1)
		err = fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, c.address, err)
		c.notifyError(err)
		return err
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.writeFailed.Store(false)
	c.closing.Store(false)
	c.setState(StateConnected)

	c.readerWG.Add(1)
	go c.readLoop(conn)

	c.Send(c.cfg.DUID, protocol.NewHello())
	c.ping.Stop()
	c.ping = startTicker(c.cfg.PingInterval, c.sendPing)

	c.logger.Info("local connection established", "duid", c.cfg.DUID, "address", c.address)
	c.notifyConnected()
	return nil
}

// teardown stops the ping ticker, closes the socket and waits for the
// reader. Caller holds lifecycleMu.
func (c *LocalClient) teardown() {
	c.ping.Stop()
	c.ping = nil

	c.closing.Store(true)

	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.readerWG.Wait()
	c.setState(StateDisconnected)
}

func (c *LocalClient) sendPing() {
	if !c.IsConnected() {
		return
	}
	c.Send(c.cfg.DUID, protocol.NewPing())
}

// checkConnection is the watchdog tick. It reopens the socket when it is
// missing, flagged disconnected, or a write has failed on it.
func (c *LocalClient) checkConnection() {
	// A concurrent Connect or Disconnect owns the connection this tick.
	if !c.lifecycleMu.TryLock() {
		return
	}
	defer c.lifecycleMu.Unlock()

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	// An idle socket that turns readable is not probed; a dead socket shows
	// up as a read error or a failed write instead.
	var reason string
	switch {
	case conn == nil:
		reason = "no socket"
	case !c.IsConnected():
		reason = "flagged disconnected"
	case c.writeFailed.Load():
		reason = "socket not writable"
	default:
		return
	}

	c.logger.Info("watchdog reconnecting", "duid", c.cfg.DUID, "reason", reason)
	c.teardown()
	if err := c.open(context.Background()); err != nil {
		c.logger.Warn("watchdog reconnect failed", "duid", c.cfg.DUID, "error", err)
		return
	}
	c.reconnectsTotal.Add(1)
}

// readLoop accumulates socket bytes and processes them once the buffer
// holds only complete segments.
func (c *LocalClient) readLoop(conn net.Conn) {
	defer c.readerWG.Done()

	chunk := make([]byte, readBufferSize)
	var buf []byte

	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			switch {
			case IsMessageComplete(buf):
				c.processSegments(buf)
				buf = nil
			case len(buf) > maxReassemblyBuffer:
				c.errorsTotal.Add(1)
				c.logger.Error("discarding unframed bytes",
					"duid", c.cfg.DUID,
					"bytes", len(buf),
				)
				buf = nil
			}
		}
		if err != nil {
			c.handleReadError(conn, err)
			return
		}
	}
}

func (c *LocalClient) processSegments(buf []byte) {
	segments, skipped := splitSegments(buf)
	if skipped > 0 {
		c.logger.Debug("skipped header-only segments", "duid", c.cfg.DUID, "count", skipped)
	}
	for _, seg := range segments {
		c.handleFrame(c.cfg.DUID, seg)
	}
}

// handleReadError reports a socket failure unless the client closed the
// socket itself.
func (c *LocalClient) handleReadError(conn net.Conn, err error) {
	if c.closing.Load() {
		return
	}

	conn.Close()
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnected)) {
		return
	}

	if errors.Is(err, io.EOF) {
		err = fmt.Errorf("%w: connection closed by device", ErrNotConnected)
	} else {
		c.errorsTotal.Add(1)
		err = fmt.Errorf("%w: read %s: %w", ErrNotConnected, c.address, err)
		c.notifyError(err)
	}

	c.logger.Warn("local connection lost", "duid", c.cfg.DUID, "error", err)
	c.pending.rejectAll(err)
	c.notifyDisconnected(err)
}

func (c *LocalClient) wireRequest(req protocol.RequestMessage) protocol.RequestMessage {
	return req.ForLocal()
}

func (c *LocalClient) writeFrame(duid string, frame []byte) error {
	if duid != c.cfg.DUID {
		return fmt.Errorf("%w: local client for %s cannot reach %s", ErrNoRoute, c.cfg.DUID, duid)
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	if conn == nil || !c.IsConnected() {
		return ErrNotConnected
	}

	if err := c.writeSegment(conn, frame); err != nil {
		c.writeFailed.Store(true)
		err = fmt.Errorf("write %s: %w", c.address, err)
		c.notifyError(err)
		return err
	}
	return nil
}

func (c *LocalClient) writeSegment(conn net.Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	_, err := conn.Write(encodeSegment(frame))
	return err
}

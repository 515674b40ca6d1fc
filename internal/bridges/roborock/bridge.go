package roborock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-roborock/internal/audit"
	"github.com/nerrad567/gray-logic-roborock/internal/device"
	"github.com/nerrad567/gray-logic-roborock/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-roborock/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-roborock/internal/roborock/protocol"
)

const (
	// storeTimeout bounds registry writes made from the receive path.
	storeTimeout = 5 * time.Second

	// seenInterval throttles last-seen writes per device.
	seenInterval = time.Minute

	// maxConcurrentDials bounds parallel local connects at start.
	maxConcurrentDials = 8
)

// DeviceStore supplies device credentials and persists handshake state.
// Satisfied by *device.Registry.
type DeviceStore interface {
	ListDevices(ctx context.Context) ([]device.Device, error)
	RecordNonce(ctx context.Context, duid string, nonce uint32) error
	MarkSeen(ctx context.Context, duid string, seen time.Time) error
}

// TelemetrySink receives device values and link events.
// Satisfied by *influxdb.Client.
type TelemetrySink interface {
	WriteState(duid string, fields map[string]interface{})
	WriteLinkEvent(duid, transport string, connected bool)
}

// CommandRecorder stores an audit entry per routed request.
// Satisfied by *audit.SQLiteRepository.
type CommandRecorder interface {
	Create(ctx context.Context, log *audit.CommandLog) error
}

var (
	_ DeviceStore     = (*device.Registry)(nil)
	_ TelemetrySink   = (*influxdb.Client)(nil)
	_ CommandRecorder = (*audit.SQLiteRepository)(nil)
)

// telemetryFields maps pushed data points to vacuum_state field names.
var telemetryFields = map[protocol.Protocol]string{
	protocol.ErrorCode:    "error_code",
	protocol.StatusUpdate: "state",
	protocol.Battery:      "battery",
	protocol.SuctionPower: "fan_power",
	protocol.WaterBoxMode: "water_box_mode",
}

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	// Config is the loaded configuration. Required.
	Config *config.Config

	// Devices supplies the devices to serve. Required.
	Devices DeviceStore

	// Telemetry is optional.
	Telemetry TelemetrySink

	// Audit is optional.
	Audit CommandRecorder

	// Logger is optional.
	Logger Logger

	// BrokerDialer overrides how the cloud session is opened.
	BrokerDialer BrokerDialer
}

// route is the transport order for one device.
type route struct {
	primary  Client
	fallback Client
}

// Bridge owns one session: the shared message context and serializer, the
// cloud client (when account secrets are configured) and one local client
// per LAN-reachable device. Send and Get route by duid.
//
// Devices with transport "auto" fall back to the cloud while their local
// socket is down.
type Bridge struct {
	cfg       *config.Config
	store     DeviceStore
	telemetry TelemetrySink
	audit     CommandRecorder
	logger    Logger

	msgCtx     *protocol.MessageContext
	serializer *protocol.Serializer
	cloud      *CloudClient

	mu      sync.RWMutex
	locals  map[string]*LocalClient
	routes  map[string]route
	devices map[string]device.Device

	seenMu   sync.Mutex
	lastSeen map[string]time.Time
	nonces   map[string]uint32

	ctx       context.Context
	ctxCancel context.CancelFunc
}

// NewBridge creates a bridge. No connections are opened until Start.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Devices == nil {
		return nil, fmt.Errorf("device store is required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	msgCtx, err := protocol.NewMessageContext(opts.Config.Account.Key)
	if err != nil {
		return nil, fmt.Errorf("creating message context: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		cfg:        opts.Config,
		store:      opts.Devices,
		telemetry:  opts.Telemetry,
		audit:      opts.Audit,
		logger:     opts.Logger,
		msgCtx:     msgCtx,
		serializer: protocol.NewSerializer(msgCtx),
		locals:     make(map[string]*LocalClient),
		routes:     make(map[string]route),
		devices:    make(map[string]device.Device),
		lastSeen:   make(map[string]time.Time),
		nonces:     make(map[string]uint32),
		ctx:        ctx,
		ctxCancel:  cancel,
	}

	if opts.Config.Account.Enabled() {
		cloudCfg := CloudConfigFromConfig(opts.Config.Account, opts.Config.MQTT)
		cloudCfg.Dialer = opts.BrokerDialer
		cloud, err := NewCloudClient(cloudCfg, b.clientOptions())
		if err != nil {
			cancel()
			return nil, err
		}
		b.attach(cloud)
		b.cloud = cloud
	}

	return b, nil
}

func (b *Bridge) clientOptions() ClientOptions {
	return ClientOptions{
		Context:        b.msgCtx,
		Serializer:     b.serializer,
		Logger:         b.logger,
		RequestTimeout: b.cfg.GetRequestTimeout(),
	}
}

func (b *Bridge) attach(c Client) {
	c.RegisterConnectionListener(ConnectionListenerFuncs{
		Connected: func(source string) {
			b.recordLink(source, true)
		},
		Disconnected: func(source string, _ error) {
			b.recordLink(source, false)
		},
		Error: func(source string, err error) {
			b.logger.Warn("transport error", "source", source, "error", err)
		},
	})
	c.RegisterMessageListener(MessageListenerFunc(b.handleMessage))
}

// Start loads devices, registers their credentials, builds routes and opens
// every transport. Local dial failures are logged and retried by each
// client's watchdog; a cloud connection failure is returned.
func (b *Bridge) Start(ctx context.Context) error {
	devices, err := b.store.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	for _, d := range devices {
		if err := b.addDevice(d); err != nil {
			b.logger.Error("skipping device", "duid", d.DUID, "error", err)
		}
	}

	b.mu.RLock()
	locals := make([]*LocalClient, 0, len(b.locals))
	for _, lc := range b.locals {
		locals = append(locals, lc)
	}
	routed := len(b.routes)
	b.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDials)
	for _, lc := range locals {
		g.Go(func() error {
			if err := lc.Connect(gctx); err != nil {
				b.logger.Warn("local connect failed, watchdog will retry",
					"duid", lc.DUID(),
					"address", lc.Address(),
					"error", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	if b.cloud != nil {
		if err := b.cloud.Connect(ctx); err != nil {
			return err
		}
	}

	b.logger.Info("bridge started",
		"devices", routed,
		"local", len(locals),
		"cloud", b.cloud != nil,
	)
	return nil
}

// addDevice registers credentials and chooses the transports for d.
func (b *Bridge) addDevice(d device.Device) error {
	version, err := d.Version()
	if err != nil {
		return err
	}
	if err := b.msgCtx.RegisterDevice(d.DUID, d.LocalKey, version, d.NonceValue()); err != nil {
		return err
	}

	var r route
	if d.UsesLocal() {
		lc, err := NewLocalClient(LocalConfig{
			DUID:             d.DUID,
			Host:             d.LocalIP,
			Port:             b.cfg.Local.Port,
			ConnectTimeout:   time.Duration(b.cfg.Local.ConnectTimeout) * time.Second,
			WriteTimeout:     time.Duration(b.cfg.Local.WriteTimeout) * time.Second,
			PingInterval:     b.cfg.GetPingInterval(),
			WatchdogInterval: b.cfg.GetWatchdogInterval(),
		}, b.clientOptions())
		if err != nil {
			return err
		}
		b.attach(lc)

		r.primary = lc
		if d.Transport == device.TransportAuto && b.cloud != nil {
			r.fallback = b.cloud
		}

		b.mu.Lock()
		b.locals[d.DUID] = lc
		b.mu.Unlock()
	} else {
		if b.cloud == nil {
			return fmt.Errorf("%w: %s needs the cloud but no account is configured", ErrNoRoute, d.DUID)
		}
		r.primary = b.cloud
	}

	b.mu.Lock()
	b.routes[d.DUID] = r
	b.devices[d.DUID] = d
	b.mu.Unlock()

	b.seenMu.Lock()
	b.nonces[d.DUID] = d.NonceValue()
	b.seenMu.Unlock()
	return nil
}

// Stop disconnects every transport. Pending calls fail with ErrClientClosed.
func (b *Bridge) Stop() {
	b.ctxCancel()

	b.mu.RLock()
	locals := make([]*LocalClient, 0, len(b.locals))
	for _, lc := range b.locals {
		locals = append(locals, lc)
	}
	b.mu.RUnlock()

	for _, lc := range locals {
		lc.Disconnect()
	}
	if b.cloud != nil {
		b.cloud.Disconnect()
	}
	b.logger.Info("bridge stopped")
}

// clientFor picks the transport for duid: the primary when connected,
// otherwise a connected fallback, otherwise the primary.
func (b *Bridge) clientFor(duid string) (Client, error) {
	b.mu.RLock()
	r, ok := b.routes[duid]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, duid)
	}

	if r.primary.IsConnected() || r.fallback == nil || !r.fallback.IsConnected() {
		return r.primary, nil
	}
	return r.fallback, nil
}

// Send routes a fire-and-forget request. Only routing failures are
// returned; transport failures are logged by the client.
func (b *Bridge) Send(duid string, req protocol.RequestMessage) error {
	c, err := b.clientFor(duid)
	if err != nil {
		return err
	}
	c.Send(duid, req)
	b.recordCommand(duid, c, req, 0, nil, true)
	return nil
}

// Get routes a request and waits for its reply.
func (b *Bridge) Get(ctx context.Context, duid string, req protocol.RequestMessage) (protocol.DataPoint, error) {
	c, err := b.clientFor(duid)
	if err != nil {
		return protocol.DataPoint{}, err
	}
	start := time.Now()
	dp, err := c.Get(ctx, duid, req)
	b.recordCommand(duid, c, req, time.Since(start), err, false)
	return dp, err
}

// transportName labels c for logs and audit entries.
func (b *Bridge) transportName(c Client) string {
	if b.cloud != nil && c == Client(b.cloud) {
		return "cloud"
	}
	return "local"
}

func (b *Bridge) recordCommand(duid string, c Client, req protocol.RequestMessage, elapsed time.Duration, err error, fireAndForget bool) {
	if b.audit == nil {
		return
	}

	entry := &audit.CommandLog{
		DUID:      duid,
		Method:    req.Method,
		Transport: b.transportName(c),
		MessageID: req.MessageID,
		Outcome:   commandOutcome(err, fireAndForget),
		Duration:  elapsed,
	}
	if err != nil {
		entry.Error = err.Error()
	}

	ctx, cancel := context.WithTimeout(b.ctx, storeTimeout)
	defer cancel()
	if err := b.audit.Create(ctx, entry); err != nil {
		b.logger.Error("recording command failed", "duid", duid, "method", req.Method, "error", err)
	}
}

func commandOutcome(err error, fireAndForget bool) string {
	var rpcErr *protocol.RPCError
	switch {
	case err == nil && fireAndForget:
		return audit.OutcomeSent
	case err == nil:
		return audit.OutcomeOK
	case errors.Is(err, ErrRequestTimeout):
		return audit.OutcomeTimeout
	case errors.As(err, &rpcErr):
		return audit.OutcomeRPCError
	default:
		return audit.OutcomeError
	}
}

// Devices returns the routed devices sorted by duid.
func (b *Bridge) Devices() []device.Device {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]device.Device, 0, len(b.devices))
	for _, d := range b.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DUID < out[j].DUID })
	return out
}

// BridgeStats aggregates client statistics.
type BridgeStats struct {
	Cloud *ClientStats
	Local map[string]ClientStats
}

// Stats returns a snapshot of every client's statistics.
func (b *Bridge) Stats() BridgeStats {
	stats := BridgeStats{Local: make(map[string]ClientStats)}
	if b.cloud != nil {
		s := b.cloud.Stats()
		stats.Cloud = &s
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for duid, lc := range b.locals {
		stats.Local[duid] = lc.Stats()
	}
	return stats
}

// handleMessage persists handshake state and forwards pushed values to
// telemetry. It runs on the transport's receive goroutine.
func (b *Bridge) handleMessage(msg *protocol.ResponseMessage) {
	b.persist(msg)

	if b.telemetry == nil {
		return
	}
	if fields := telemetryValues(msg); len(fields) > 0 {
		b.telemetry.WriteState(msg.DUID, fields)
	}
}

func (b *Bridge) persist(msg *protocol.ResponseMessage) {
	now := time.Now()

	b.seenMu.Lock()
	markSeen := now.Sub(b.lastSeen[msg.DUID]) >= seenInterval
	if markSeen {
		b.lastSeen[msg.DUID] = now
	}
	hello, isHello := msg.Hello()
	recordNonce := isHello && b.nonces[msg.DUID] != hello.Nonce
	if recordNonce {
		b.nonces[msg.DUID] = hello.Nonce
	}
	b.seenMu.Unlock()

	if !markSeen && !recordNonce {
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, storeTimeout)
	defer cancel()

	if recordNonce {
		if err := b.store.RecordNonce(ctx, msg.DUID, hello.Nonce); err != nil && !errors.Is(err, device.ErrDeviceNotFound) {
			b.logger.Error("recording device nonce failed", "duid", msg.DUID, "error", err)
		}
	}
	if markSeen {
		if err := b.store.MarkSeen(ctx, msg.DUID, now); err != nil && !errors.Is(err, device.ErrDeviceNotFound) {
			b.logger.Error("recording last seen failed", "duid", msg.DUID, "error", err)
		}
	}
}

// telemetryValues extracts numeric pushed values from msg.
func telemetryValues(msg *protocol.ResponseMessage) map[string]interface{} {
	var fields map[string]interface{}
	for p, name := range telemetryFields {
		dp, ok := msg.Get(p)
		if !ok {
			continue
		}
		var n int64
		if err := json.Unmarshal(dp.Result, &n); err != nil {
			continue
		}
		if fields == nil {
			fields = make(map[string]interface{}, len(telemetryFields))
		}
		fields[name] = n
	}
	return fields
}

// recordLink writes a link event for a client source name.
func (b *Bridge) recordLink(source string, connected bool) {
	b.logger.Info("transport link changed", "source", source, "connected", connected)
	if b.telemetry == nil {
		return
	}
	transport, duid, _ := strings.Cut(source, ":")
	b.telemetry.WriteLinkEvent(duid, transport, connected)
}

package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"stationedge/clock"
	"stationedge/config"
	"stationedge/conflict"
	"stationedge/conn"
	"stationedge/lifecycle"
	"stationedge/messaging"
	"stationedge/mirror"
	"stationedge/queuesync"
	"stationedge/session"
	"stationedge/stationapi"
	"stationedge/store"

	"github.com/redis/go-redis/v9"
)

const asyncTimeout = 30 * time.Second

// LogFunc is the logging callback signature.
type LogFunc func(format string, args ...interface{})

// Engine builds the sync components, wires them through the EventBus and
// exposes the operations the terminal UI calls.
type Engine struct {
	cfg        *config.Config
	configPath string
	db         *store.DB
	logFn      LogFunc
	debugFn    LogFunc
	version    string
	clock      clock.Clock

	session   *session.Source
	api       *stationapi.Client
	source    queuesync.DataSource
	dialer    conn.Dialer
	printer   lifecycle.Printer
	conn      *conn.Manager
	queues    *queuesync.Store
	lifecycle *lifecycle.Machine

	msgClient   *messaging.Client
	drainer     *messaging.OutboxDrainer
	heartbeater *messaging.Heartbeater
	mirror      *mirror.RedisMirror
	mirrorW     *mirror.Worker

	selMu     sync.Mutex
	selection conflict.Selection

	Events *EventBus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds the parameters needed to create an Engine.
type Config struct {
	AppConfig  *config.Config
	ConfigPath string
	DB         *store.DB
	LogFunc    LogFunc
	Debug      bool
	Version    string

	// Source, Dialer, Printer and Clock replace the production collaborators
	// built from AppConfig when set.
	Source  queuesync.DataSource
	Dialer  conn.Dialer
	Printer lifecycle.Printer
	Clock   clock.Clock
}

// New creates a new Engine. Call Start() to initialize and wire subsystems.
func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	debugFn := LogFunc(func(string, ...interface{}) {})
	if c.Debug {
		debugFn = logFn
	}
	clk := c.Clock
	if clk == nil {
		clk = clock.Real()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:        c.AppConfig,
		configPath: c.ConfigPath,
		db:         c.DB,
		logFn:      logFn,
		debugFn:    debugFn,
		version:    c.Version,
		clock:      clk,
		source:     c.Source,
		dialer:     c.Dialer,
		printer:    c.Printer,
		Events:     NewEventBus(clk),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start creates all components, wires event handlers, and starts
// connecting. It does not block on the network.
func (e *Engine) Start() {
	cfg := e.cfg

	e.session = session.New(e.db)
	if e.source == nil {
		e.api = stationapi.NewClient(cfg.Server.BaseURL, cfg.Server.RequestTimeout, e.session)
		e.source = e.api
	}
	if e.dialer == nil {
		e.dialer = &conn.WSDialer{URL: cfg.Server.WebSocketURL}
	}

	e.startMessaging()
	if e.printer == nil {
		var kick func()
		if e.drainer != nil {
			kick = e.drainer.Kick
		}
		e.printer = messaging.NewPassSpooler(e.db, cfg.Messaging.PrintTopic, cfg.StationID, kick)
	}

	topics := append([]string(nil), conn.DefaultOptions().Topics...)
	topics = append(topics, cfg.Realtime.Topics...)
	e.conn = conn.NewManager(e.dialer, e.session, &pushHandler{e: e}, &connEmitter{bus: e.Events}, conn.Options{
		StationID:         cfg.StationID,
		ClientType:        cfg.Realtime.ClientType,
		Topics:            topics,
		HeartbeatInterval: cfg.Realtime.HeartbeatInterval,
		MaxMissedAcks:     cfg.Realtime.MaxMissedAcks,
		Backoff: conn.Backoff{
			Base:   cfg.Realtime.ReconnectBase,
			Max:    cfg.Realtime.ReconnectMax,
			Jitter: conn.DefaultBackoff().Jitter,
		},
		Clock: e.clock,
	})
	e.queues = queuesync.New(e.source, e.conn, &queueEmitter{bus: e.Events}, queuesync.Options{
		SuppressionWindow: cfg.Sync.SuppressionWindow,
		PollInterval:      cfg.Sync.PollInterval,
		Clock:             e.clock,
	})
	e.lifecycle = lifecycle.NewMachine(e.queues, e.queues, e.db, e.printer, &lifecycleEmitter{bus: e.Events}, lifecycle.Options{
		Clock:   e.clock,
		StaffID: e.staffID,
	})

	e.startMirror()
	e.wireEventHandlers()

	e.queues.StartPolling()
	e.async("initial refresh", e.queues.Refresh)
	e.async("connect", e.conn.Connect)

	e.logFn("Engine started: station=%s server=%s", cfg.StationID, cfg.Server.BaseURL)
}

func (e *Engine) startMessaging() {
	mc := &e.cfg.Messaging
	if !mc.Enabled {
		log.Printf("messaging disabled: exit passes will not be printed")
		return
	}
	e.msgClient = messaging.NewClient(mc, "stationedge-"+e.cfg.StationID)
	if err := e.msgClient.Connect(); err != nil {
		log.Printf("messaging connect: %v", err)
	}
	e.drainer = messaging.NewOutboxDrainer(e.db, e.msgClient, mc.OutboxDrainInterval, mc.MaxRetries)
	e.drainer.Start()
	e.heartbeater = messaging.NewHeartbeater(e.msgClient, e.cfg.StationID, e.version, mc.StatusTopic, mc.StatusInterval, e.fillStatus)
	e.heartbeater.Start()
}

func (e *Engine) startMirror() {
	rc := &e.cfg.Redis
	if !rc.Enabled {
		return
	}
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	e.mirror = mirror.NewRedisMirror(client, rc.Prefix, rc.TTL)
	ctx, cancel := context.WithTimeout(e.ctx, 2*time.Second)
	defer cancel()
	if err := e.mirror.Ping(ctx); err != nil {
		log.Printf("redis mirror: %v (writes will be retried on change)", err)
	}
	e.mirrorW = mirror.NewWorker(e.mirror, 0)
	e.mirrorW.Start()
}

func (e *Engine) fillStatus(s *messaging.StationStatus) {
	s.Connection = string(e.conn.State())
	s.Destinations = len(e.queues.Snapshot().Destinations())
	s.ActivePasses = len(e.lifecycle.ActivePasses())
	if n, err := e.db.CountPendingOutbox(); err == nil {
		s.PendingOutbox = n
	}
}

// Stop shuts down all subsystems gracefully.
func (e *Engine) Stop() {
	e.cancel()
	if e.conn != nil {
		e.conn.Disconnect()
	}
	if e.queues != nil {
		e.queues.StopPolling()
	}
	e.wg.Wait()

	if e.heartbeater != nil {
		e.heartbeater.Stop()
	}
	if e.drainer != nil {
		e.drainer.Stop()
	}
	if e.msgClient != nil {
		e.msgClient.Close()
	}
	if e.mirrorW != nil {
		e.mirrorW.Stop()
	}
	if e.mirror != nil {
		e.mirror.Close()
	}
	e.logFn("Engine stopped")
}

// async runs fn on its own goroutine with a bounded context. Work is not
// started after Stop.
func (e *Engine) async(name string, fn func(ctx context.Context) error) {
	if e.ctx.Err() != nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(e.ctx, asyncTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Printf("engine: %s: %v", name, err)
		}
	}()
}

func (e *Engine) staffID() string {
	if e.session == nil {
		return ""
	}
	id, err := e.session.Identity()
	if err != nil {
		return ""
	}
	return id.StaffID
}

// DB returns the database handle.
func (e *Engine) DB() *store.DB { return e.db }

// AppConfig returns the app config.
func (e *Engine) AppConfig() *config.Config { return e.cfg }

// ConfigPath returns the config file path.
func (e *Engine) ConfigPath() string { return e.configPath }

// Session returns the stored staff session.
func (e *Engine) Session() *session.Source { return e.session }

// Connection returns the push channel manager.
func (e *Engine) Connection() *conn.Manager { return e.conn }

// Queues returns the queue store.
func (e *Engine) Queues() *queuesync.Store { return e.queues }

// Lifecycle returns the vehicle lifecycle machine.
func (e *Engine) Lifecycle() *lifecycle.Machine { return e.lifecycle }

// ApplyServerConfig points the REST client and the push channel at the
// configured server and reconnects.
func (e *Engine) ApplyServerConfig() {
	if e.api != nil {
		e.api.Reconfigure(e.cfg.Server.BaseURL, e.cfg.Server.RequestTimeout)
	}
	e.conn.Disconnect()
	if d, ok := e.dialer.(*conn.WSDialer); ok {
		d.URL = e.cfg.Server.WebSocketURL
	}
	e.async("reconnect", e.conn.Connect)
}

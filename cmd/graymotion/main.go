// Gray Motion Core - Animatronic Motion and Safety Controller
//
// This is the main entry point for the Gray Motion core. It drives a set of
// servo channels from a catalog of timed sequences and manual commands,
// under a safety monitor that can latch an emergency stop at any moment.
//
// Usage:
//
//	graymotion                  run the controller
//	graymotion hash-password    read a password on stdin, print its argon2id hash
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-motion-core/migrations"

	"github.com/nerrad567/gray-motion-core/internal/api"
	"github.com/nerrad567/gray-motion-core/internal/audit"
	"github.com/nerrad567/gray-motion-core/internal/auth"
	"github.com/nerrad567/gray-motion-core/internal/bridge"
	"github.com/nerrad567/gray-motion-core/internal/broadcast"
	"github.com/nerrad567/gray-motion-core/internal/channel"
	"github.com/nerrad567/gray-motion-core/internal/history"
	"github.com/nerrad567/gray-motion-core/internal/infrastructure/config"
	"github.com/nerrad567/gray-motion-core/internal/infrastructure/database"
	"github.com/nerrad567/gray-motion-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-motion-core/internal/infrastructure/logging"
	"github.com/nerrad567/gray-motion-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-motion-core/internal/motion"
	"github.com/nerrad567/gray-motion-core/internal/safety"
	"github.com/nerrad567/gray-motion-core/internal/sequence"
	"github.com/nerrad567/gray-motion-core/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// historyQueueSize bounds engine events waiting for the history database.
const historyQueueSize = 256

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		if err := hashPassword(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Cancel on Ctrl+C or SIGTERM; every component shuts down from ctx.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Motion Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	profile, err := channel.LoadProfile(cfg.Profile.ChannelsFile)
	if err != nil {
		return fmt.Errorf("loading channel profile: %w", err)
	}
	log.Info("channel profile loaded",
		"path", cfg.Profile.ChannelsFile,
		"channels", len(profile.Channels),
	)

	operators, err := auth.NewDirectory(cfg.Security.Operators)
	if err != nil {
		return fmt.Errorf("loading operators: %w", err)
	}
	if operators.Len() == 0 {
		log.Warn("no operators configured, the API accepts no logins")
	}

	// Connect to MQTT broker (optional). Without it the core runs dry:
	// positions are computed and reported but never leave the process.
	var mqttClient *mqtt.Client
	hardware := channel.Discard
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		hardware = bridge.NewHardware(mqttClient, mqttClient.QoS(), profile.Channels)
	} else {
		log.Warn("MQTT disabled, running without servo output")
	}

	registry, err := channel.NewRegistry(profile, hardware,
		channel.WithWriteTimeout(cfg.Motion.WriteTimeout),
		channel.WithLogger(log.Component("channel")),
	)
	if err != nil {
		return fmt.Errorf("building channel registry: %w", err)
	}

	library, err := sequence.LoadFile(cfg.Profile.SequencesFile, registry)
	if err != nil {
		return fmt.Errorf("loading sequence catalog: %w", err)
	}
	catalog := sequence.NewCatalog(library)
	log.Info("sequence catalog loaded",
		"path", cfg.Profile.SequencesFile,
		"sequences", library.Count(),
	)

	// Open history database (optional)
	var (
		db       *database.DB
		repo     history.Repository
		trail    audit.Repository
		recorder *history.Recorder
	)
	if cfg.Database.Enabled {
		db, err = database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "path", cfg.Database.Path)

		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")

		repo = history.NewSQLiteRepository(db.DB)
		recorder = history.NewRecorder(repo, historyQueueSize, log.Component("history"))
		trail = audit.NewSQLiteRepository(db.DB)
	} else {
		log.Info("history database disabled")
	}

	// Connect to InfluxDB (optional)
	var (
		influxClient *influxdb.Client
		points       *telemetry.Recorder
	)
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		points = telemetry.New(influxClient, telemetry.WithController(cfg.Controller.ID))
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// The hub reads status from the engine, and the engine emits into the
	// hub, so the hub takes the engine through a late-bound source.
	source := &engineSource{}
	hub := broadcast.NewHub(broadcastConfig(cfg.Broadcast), source,
		broadcast.WithLogger(log.Component("broadcast")),
	)

	sinks := motion.Sinks{hub}
	if recorder != nil {
		sinks = append(sinks, recorder)
	}
	if points != nil {
		sinks = append(sinks, points)
	}
	opts := []motion.Option{
		motion.WithEventSink(sinks),
		motion.WithLogger(log.Component("motion")),
	}
	if mqttClient != nil {
		opts = append(opts, motion.WithTriggerSink(bridge.NewEffects(mqttClient, mqttClient.QoS())))
	}

	monitor := safety.NewMonitor(log.Component("safety"))
	engine := motion.New(motionConfig(cfg), registry, monitor, catalog, opts...)
	source.engine = engine
	hub.SetCommandHandler(api.NewCommandHandler(engine, api.WithAudit(trail, log.Component("api"))))

	if mqttClient != nil {
		inbound := bridge.NewInbound(bridge.InboundConfig{
			Engine:   engine,
			Alerts:   hub,
			Channels: profile.Channels,
			Mappings: cfg.Events.Mappings,
			QoS:      mqttClient.QoS(),
			Logger:   log.Component("bridge"),
		})
		if subErr := inbound.Subscribe(mqttClient); subErr != nil {
			return fmt.Errorf("subscribing to collaborators: %w", subErr)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return hub.Run(gctx) })
	if recorder != nil {
		g.Go(func() error { return recorder.Run(gctx) })
	}
	if points != nil {
		g.Go(func() error { return points.Run(gctx, engine) })
	}
	if cfg.Profile.WatchSequences {
		watcher := sequence.NewWatcher(cfg.Profile.SequencesFile, registry, catalog, log.Component("sequence"))
		watcher.OnReload(func(lib *sequence.Library) {
			log.Info("sequence catalog reloaded", "sequences", lib.Count())
		})
		g.Go(func() error { return watcher.Run(gctx) })
	}

	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log.Component("api"),
		Engine:    engine,
		Sequences: catalog,
		Hub:       hub,
		Operators: operators,
		History:   repo,
		Audit:     trail,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(gctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal",
		"controller", cfg.Controller.ID,
		"channels", registry.Len(),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("component failed: %w", err)
	}

	log.Info("Gray Motion Core stopped")
	return nil
}

// engineSource hands the hub the engine's snapshot once the engine
// exists. Before that it reports nothing.
type engineSource struct {
	engine *motion.Engine
}

func (s *engineSource) Snapshot() *motion.Snapshot {
	if s.engine == nil {
		return nil
	}
	return s.engine.Snapshot()
}

// getConfigPath returns the configuration file path.
// Checks GRAYMOTION_CONFIG environment variable first, then uses default.
func getConfigPath() string {
	if path := os.Getenv("GRAYMOTION_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func motionConfig(cfg *config.Config) motion.Config {
	return motion.Config{
		TickInterval:        cfg.Motion.TickInterval,
		ArbitrationTimeout:  cfg.Motion.ArbitrationTimeout,
		ManualPriority:      cfg.Motion.ManualPriority,
		ManualDuration:      cfg.Motion.ManualDuration,
		EdgeMargin:          cfg.Safety.EdgeMargin,
		WriteLatencyWarning: cfg.Safety.WriteLatencyWarning,
		WatchdogTimeout:     cfg.Safety.WatchdogTimeout,
		UseSafePose:         cfg.Safety.UseSafePose,
	}
}

func broadcastConfig(cfg config.BroadcastConfig) broadcast.Config {
	return broadcast.Config{
		StatusInterval:      cfg.StatusInterval,
		AlertWindow:         cfg.AlertWindow,
		AlertHistory:        cfg.AlertHistory,
		PendingSafetyEvents: cfg.PendingSafetyEvents,
		SessionQueue:        cfg.SessionQueue,
	}
}

// healthCheck verifies the optional infrastructure connections that were
// opened. A nil client is skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// hashPassword reads one password line from in and writes its argon2id
// hash to out, for pasting into security.operators.
func hashPassword(in io.Reader, out io.Writer) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading password: %w", err)
	}
	hash, err := auth.HashPassword(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}

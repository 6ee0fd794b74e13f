package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Gray Motion core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Controller ControllerConfig `yaml:"controller"`
	Profile    ProfileConfig    `yaml:"profile"`
	Motion     MotionConfig     `yaml:"motion"`
	Safety     SafetyConfig     `yaml:"safety"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
	Events     EventsConfig     `yaml:"events"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
}

// ControllerConfig identifies this motion core instance.
type ControllerConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// ProfileConfig points at the channel profile and sequence catalog files.
type ProfileConfig struct {
	ChannelsFile  string `yaml:"channels_file"`
	SequencesFile string `yaml:"sequences_file"`

	// WatchSequences reloads the sequence catalog when the file changes.
	// A reload that fails validation is discarded and the previous catalog stays live.
	WatchSequences bool `yaml:"watch_sequences"`
}

// MotionConfig contains control loop timing.
type MotionConfig struct {
	// TickInterval is the control loop period. Default: 20ms (50 Hz).
	TickInterval time.Duration `yaml:"tick_interval"`

	// ArbitrationTimeout bounds how long a submitter waits for the control
	// loop to acknowledge a request. Default: 200ms.
	ArbitrationTimeout time.Duration `yaml:"arbitration_timeout"`

	// WriteTimeout bounds a single hardware write attempt.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ManualPriority is applied to manual commands that do not carry one.
	ManualPriority int `yaml:"manual_priority"`

	// ManualDuration is the default travel time for manual commands.
	ManualDuration time.Duration `yaml:"manual_duration"`
}

// SafetyConfig contains safety monitor thresholds.
type SafetyConfig struct {
	// EdgeMargin is the fraction of a channel's range treated as "near the
	// limit" (soft violation). 0 disables the check.
	EdgeMargin float64 `yaml:"edge_margin"`

	// WriteLatencyWarning raises a soft violation when a hardware write
	// takes longer than this.
	WriteLatencyWarning time.Duration `yaml:"write_latency_warning"`

	// WatchdogTimeout raises a hard violation when the gap between two
	// ticks exceeds it.
	WatchdogTimeout time.Duration `yaml:"watchdog_timeout"`

	// UseSafePose drives every channel to its configured safe position once
	// when an emergency stop begins. When false channels hold in place.
	UseSafePose bool `yaml:"use_safe_pose"`
}

// BroadcastConfig contains observer fan-out settings.
type BroadcastConfig struct {
	StatusInterval time.Duration `yaml:"status_interval"`
	AlertWindow    time.Duration `yaml:"alert_window"`
	AlertHistory   int           `yaml:"alert_history"`

	// PendingSafetyEvents bounds the safety events buffered while no
	// observer is connected.
	PendingSafetyEvents int `yaml:"pending_safety_events"`

	// SessionQueue bounds the per-session event queue. A session that
	// overflows is closed rather than skipping events.
	SessionQueue int `yaml:"session_queue"`
}

// EventsConfig maps inbound vision events to sequences.
type EventsConfig struct {
	Mappings map[string]EventMapping `yaml:"mappings"`
}

// EventMapping binds one vision event name to a catalog sequence.
type EventMapping struct {
	Sequence string `yaml:"sequence"`
	Priority int    `yaml:"priority"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`

	// Operators are the accounts that may log in to the command surface.
	Operators []OperatorConfig `yaml:"operators"`
}

// OperatorConfig is one login account. PasswordHash is an Argon2id PHC
// string as printed by `graymotion hash-password`.
type OperatorConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	Role         string `yaml:"role"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYMOTION_SECTION_KEY
// For example: GRAYMOTION_DATABASE_PATH, GRAYMOTION_MOTION_TICK_INTERVAL
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Controller: ControllerConfig{
			ID:   "motion-001",
			Name: "Gray Motion",
		},
		Profile: ProfileConfig{
			ChannelsFile:  "./configs/channels.yaml",
			SequencesFile: "./configs/sequences.yaml",
		},
		Motion: MotionConfig{
			TickInterval:       20 * time.Millisecond,
			ArbitrationTimeout: 200 * time.Millisecond,
			WriteTimeout:       8 * time.Millisecond,
			ManualPriority:     5,
			ManualDuration:     500 * time.Millisecond,
		},
		Safety: SafetyConfig{
			EdgeMargin:          0.02,
			WriteLatencyWarning: 5 * time.Millisecond,
			WatchdogTimeout:     200 * time.Millisecond,
		},
		Broadcast: BroadcastConfig{
			StatusInterval:      time.Second,
			AlertWindow:         10 * time.Second,
			AlertHistory:        20,
			PendingSafetyEvents: 64,
			SessionQueue:        1024,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/graymotion.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graymotion-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYMOTION_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYMOTION_PROFILE_CHANNELS_FILE"); v != "" {
		cfg.Profile.ChannelsFile = v
	}
	if v := os.Getenv("GRAYMOTION_PROFILE_SEQUENCES_FILE"); v != "" {
		cfg.Profile.SequencesFile = v
	}

	if d, ok := envDuration("GRAYMOTION_MOTION_TICK_INTERVAL"); ok {
		cfg.Motion.TickInterval = d
	}
	if d, ok := envDuration("GRAYMOTION_MOTION_ARBITRATION_TIMEOUT"); ok {
		cfg.Motion.ArbitrationTimeout = d
	}

	if v := os.Getenv("GRAYMOTION_SAFETY_USE_SAFE_POSE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Safety.UseSafePose = b
		}
	}

	if v := os.Getenv("GRAYMOTION_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("GRAYMOTION_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYMOTION_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYMOTION_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("GRAYMOTION_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("GRAYMOTION_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// JWT secret must always come from the environment in production.
	if v := os.Getenv("GRAYMOTION_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Controller.ID == "" {
		errs = append(errs, "controller.id is required")
	}

	if c.Profile.ChannelsFile == "" {
		errs = append(errs, "profile.channels_file is required")
	}
	if c.Profile.SequencesFile == "" {
		errs = append(errs, "profile.sequences_file is required")
	}

	if c.Motion.TickInterval <= 0 {
		errs = append(errs, "motion.tick_interval must be positive")
	}
	if c.Motion.ArbitrationTimeout <= 0 {
		errs = append(errs, "motion.arbitration_timeout must be positive")
	}
	if c.Motion.WriteTimeout <= 0 {
		errs = append(errs, "motion.write_timeout must be positive")
	} else if c.Motion.TickInterval > 0 && 2*c.Motion.WriteTimeout > c.Motion.TickInterval {
		// One write plus its single retry must fit inside a tick.
		errs = append(errs, "motion.write_timeout must be at most half of motion.tick_interval")
	}
	if c.Motion.ManualPriority < 1 || c.Motion.ManualPriority > 100 {
		errs = append(errs, "motion.manual_priority must be between 1 and 100")
	}

	if c.Safety.EdgeMargin < 0 || c.Safety.EdgeMargin >= 0.5 {
		errs = append(errs, "safety.edge_margin must be in [0, 0.5)")
	}
	if c.Safety.WatchdogTimeout > 0 && c.Safety.WatchdogTimeout <= c.Motion.TickInterval {
		errs = append(errs, "safety.watchdog_timeout must exceed motion.tick_interval")
	}

	if c.Broadcast.StatusInterval <= 0 {
		errs = append(errs, "broadcast.status_interval must be positive")
	}
	if c.Broadcast.AlertWindow <= 0 {
		errs = append(errs, "broadcast.alert_window must be positive")
	}
	if c.Broadcast.AlertHistory < 1 {
		errs = append(errs, "broadcast.alert_history must be at least 1")
	}
	if c.Broadcast.SessionQueue < 1 {
		errs = append(errs, "broadcast.session_queue must be at least 1")
	}

	for name, m := range c.Events.Mappings {
		if m.Sequence == "" {
			errs = append(errs, fmt.Sprintf("events.mappings.%s.sequence is required", name))
		}
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Reset of an emergency stop is gated on a signed token, so a weak
	// secret would let anyone release the stop.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set GRAYMOTION_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	seen := make(map[string]bool, len(c.Security.Operators))
	for i, op := range c.Security.Operators {
		switch {
		case op.Username == "":
			errs = append(errs, fmt.Sprintf("security.operators[%d].username is required", i))
		case seen[op.Username]:
			errs = append(errs, fmt.Sprintf("security.operators[%d]: duplicate username %q", i, op.Username))
		}
		seen[op.Username] = true
		if op.PasswordHash == "" {
			errs = append(errs, fmt.Sprintf("security.operators[%d].password_hash is required", i))
		}
		switch op.Role {
		case "viewer", "operator", "admin":
		default:
			errs = append(errs, fmt.Sprintf("security.operators[%d].role must be viewer, operator, or admin", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

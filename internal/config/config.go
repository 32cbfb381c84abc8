package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type StreamMode string

const (
	StreamModeGRPC      StreamMode = "grpc"
	StreamModeWebSocket StreamMode = "websocket"
	StreamModeNone      StreamMode = "none"
)

type Backend string

const (
	BackendLibvirt Backend = "libvirt"
	BackendMemory  Backend = "memory"
)

// Version is overridden at build time with -ldflags.
var Version = "v0.1.0"

type Config struct {
	NodeID   string  `yaml:"node_id" validate:"required"`
	Hostname string  `yaml:"-"`
	Backend  Backend `yaml:"backend" validate:"oneof=libvirt memory"`

	LibvirtURI          string        `yaml:"libvirt_uri" validate:"required_if=Backend libvirt"`
	LibvirtCacheTTL     time.Duration `yaml:"libvirt_cache_ttl" validate:"gte=0"`
	QEMURunDir          string        `yaml:"qemu_run_dir"`
	FixturePath         string        `yaml:"fixture_path" validate:"required_if=Backend memory"`
	RealizedSystemType  string        `yaml:"realized_system_type"`
	InspectConcurrency  int           `yaml:"inspect_concurrency" validate:"gte=1,lte=64"`
	PollInterval        time.Duration `yaml:"poll_interval" validate:"gt=0"`
	HealthInterval      time.Duration `yaml:"health_interval" validate:"gt=0"`
	ReconnectInterval   time.Duration `yaml:"reconnect_interval" validate:"gt=0"`
	MaxReconnectBackoff time.Duration `yaml:"max_reconnect_backoff" validate:"gtefield=ReconnectInterval"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`

	ProbeListenAddr string `yaml:"probe_listen_addr" validate:"required"`
	HTTPListenAddr  string `yaml:"http_listen_addr"`

	StreamMode            StreamMode    `yaml:"stream_mode" validate:"oneof=grpc websocket none"`
	BackendGRPCAddr       string        `yaml:"backend_grpc_addr" validate:"required_if=StreamMode grpc"`
	BackendWSURL          string        `yaml:"backend_ws_url" validate:"required_if=StreamMode websocket"`
	BackendToken          string        `yaml:"backend_token"`
	GRPCSnapshotMethod    string        `yaml:"grpc_snapshot_method" validate:"required_if=StreamMode grpc"`
	WebSocketWriteTimeout time.Duration `yaml:"ws_write_timeout" validate:"gt=0"`
	StreamBufferSize      int           `yaml:"stream_buffer_size" validate:"gt=0"`

	TLSEnabled    bool   `yaml:"tls_enabled"`
	TLSSkipVerify bool   `yaml:"tls_skip_verify"`
	TLSCAPath     string `yaml:"tls_ca_path"`
	TLSCertPath   string `yaml:"tls_cert_path"`
	TLSKeyPath    string `yaml:"tls_key_path"`

	LogJSON       bool   `yaml:"log_json"`
	LogLevel      string `yaml:"log_level" validate:"oneof=debug info warn warning error"`
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb" validate:"gte=0"`
	LogMaxBackups int    `yaml:"log_max_backups" validate:"gte=0"`
	LogMaxAgeDays int    `yaml:"log_max_age_days" validate:"gte=0"`

	AgentVersion string `yaml:"-" validate:"required"`
}

func Default() Config {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	return Config{
		NodeID:                hostname,
		Hostname:              hostname,
		Backend:               BackendLibvirt,
		LibvirtURI:            "qemu:///system",
		LibvirtCacheTTL:       2 * time.Second,
		QEMURunDir:            "/run/libvirt/qemu",
		InspectConcurrency:    4,
		PollInterval:          10 * time.Second,
		HealthInterval:        10 * time.Second,
		ReconnectInterval:     3 * time.Second,
		MaxReconnectBackoff:   time.Minute,
		ShutdownTimeout:       20 * time.Second,
		ProbeListenAddr:       "0.0.0.0:7443",
		HTTPListenAddr:        "0.0.0.0:9177",
		StreamMode:            StreamModeNone,
		BackendGRPCAddr:       "127.0.0.1:3001",
		BackendWSURL:          "ws://127.0.0.1:3001/ws/metrics",
		GRPCSnapshotMethod:    "/aurora.inspector.v1.InspectorService/StreamInstanceSnapshots",
		WebSocketWriteTimeout: 5 * time.Second,
		StreamBufferSize:      256,
		LogJSON:               true,
		LogLevel:              "info",
		LogMaxSizeMB:          100,
		LogMaxBackups:         5,
		LogMaxAgeDays:         14,
		AgentVersion:          Version,
	}
}

// Load reads the optional YAML file named by INSPECTOR_CONFIG_FILE, applies
// INSPECTOR_* environment overrides and validates the result.
func Load() (Config, error) {
	cfg := Default()
	if path := env("INSPECTOR_CONFIG_FILE", ""); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.NodeID = env("INSPECTOR_NODE_ID", c.NodeID)
	c.Backend = Backend(strings.ToLower(env("INSPECTOR_BACKEND", string(c.Backend))))
	c.LibvirtURI = env("INSPECTOR_LIBVIRT_URI", c.LibvirtURI)
	c.LibvirtCacheTTL = envDuration("INSPECTOR_LIBVIRT_CACHE_TTL", c.LibvirtCacheTTL)
	c.QEMURunDir = env("INSPECTOR_QEMU_RUN_DIR", c.QEMURunDir)
	c.FixturePath = env("INSPECTOR_FIXTURE_PATH", c.FixturePath)
	c.RealizedSystemType = env("INSPECTOR_REALIZED_SYSTEM_TYPE", c.RealizedSystemType)
	c.InspectConcurrency = envInt("INSPECTOR_INSPECT_CONCURRENCY", c.InspectConcurrency)
	c.PollInterval = envDuration("INSPECTOR_POLL_INTERVAL", c.PollInterval)
	c.HealthInterval = envDuration("INSPECTOR_HEALTH_INTERVAL", c.HealthInterval)
	c.ReconnectInterval = envDuration("INSPECTOR_RECONNECT_INTERVAL", c.ReconnectInterval)
	c.MaxReconnectBackoff = envDuration("INSPECTOR_MAX_RECONNECT_BACKOFF", c.MaxReconnectBackoff)
	c.ShutdownTimeout = envDuration("INSPECTOR_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.ProbeListenAddr = env("INSPECTOR_PROBE_ADDR", c.ProbeListenAddr)
	c.HTTPListenAddr = env("INSPECTOR_HTTP_ADDR", c.HTTPListenAddr)
	c.StreamMode = StreamMode(strings.ToLower(env("INSPECTOR_STREAM_MODE", string(c.StreamMode))))
	c.BackendGRPCAddr = env("INSPECTOR_BACKEND_GRPC_ADDR", c.BackendGRPCAddr)
	c.BackendWSURL = env("INSPECTOR_BACKEND_WS_URL", c.BackendWSURL)
	c.BackendToken = env("INSPECTOR_BACKEND_TOKEN", c.BackendToken)
	c.GRPCSnapshotMethod = env("INSPECTOR_GRPC_SNAPSHOT_METHOD", c.GRPCSnapshotMethod)
	c.WebSocketWriteTimeout = envDuration("INSPECTOR_WS_WRITE_TIMEOUT", c.WebSocketWriteTimeout)
	c.StreamBufferSize = envInt("INSPECTOR_STREAM_BUFFER_SIZE", c.StreamBufferSize)
	c.TLSEnabled = envBool("INSPECTOR_TLS_ENABLED", c.TLSEnabled)
	c.TLSSkipVerify = envBool("INSPECTOR_TLS_SKIP_VERIFY", c.TLSSkipVerify)
	c.TLSCAPath = env("INSPECTOR_TLS_CA_PATH", c.TLSCAPath)
	c.TLSCertPath = env("INSPECTOR_TLS_CERT_PATH", c.TLSCertPath)
	c.TLSKeyPath = env("INSPECTOR_TLS_KEY_PATH", c.TLSKeyPath)
	c.LogJSON = envBool("INSPECTOR_LOG_JSON", c.LogJSON)
	c.LogLevel = strings.ToLower(env("INSPECTOR_LOG_LEVEL", c.LogLevel))
	c.LogFile = env("INSPECTOR_LOG_FILE", c.LogFile)
	c.LogMaxSizeMB = envInt("INSPECTOR_LOG_MAX_SIZE_MB", c.LogMaxSizeMB)
	c.LogMaxBackups = envInt("INSPECTOR_LOG_MAX_BACKUPS", c.LogMaxBackups)
	c.LogMaxAgeDays = envInt("INSPECTOR_LOG_MAX_AGE_DAYS", c.LogMaxAgeDays)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", f.StructField(), f.Tag(), f.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if (c.TLSCertPath == "") != (c.TLSKeyPath == "") {
		return errors.New("both TLS cert and key are required")
	}
	return nil
}

func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.TLSEnabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.TLSSkipVerify}
	if c.TLSCAPath != "" {
		caBytes, err := os.ReadFile(c.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("append CA cert failed")
		}
		tlsCfg.RootCAs = pool
	}
	if c.TLSCertPath != "" || c.TLSKeyPath != "" {
		crt, err := tls.LoadX509KeyPair(c.TLSCertPath, c.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load mTLS cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{crt}
	}
	return tlsCfg, nil
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

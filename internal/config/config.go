package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tidwall/jsonc"

	"github.com/studiowebux/medprobe/internal/types"
)

const (
	// FilePermissions is the default permission mode for regular files (read/write for owner, read for others)
	FilePermissions = 0644
	// DirPermissions is the default permission mode for directories (rwxr-xr-x)
	DirPermissions = 0755

	// ConfigFileName is the optional JSON-with-comments settings file
	ConfigFileName = "medprobe.jsonc"
)

// Setting keys. The environment names match the existing Medaryon test tooling.
const (
	KeyBaseURL          = "base_url"
	KeyHelloURL         = "hello_url"
	KeyConcurrency      = "concurrency"
	KeyRequests         = "requests"
	KeyNumUsers         = "num_users"
	KeyTimeout          = "timeout"
	KeyRetries          = "retries"
	KeyBackoff          = "backoff"
	KeyFailOnExhaustion = "fail_on_exhaustion"
	KeyDBPath           = "db_path"
	KeyLogLevel         = "log_level"
	KeyLogFormat        = "log_format"
	KeyMetricsAddr      = "metrics_addr"
	KeyTLSCA            = "tls.ca_file"
	KeyTLSCert          = "tls.cert_file"
	KeyTLSKey           = "tls.key_file"
	KeyTLSInsecure      = "tls.insecure"
)

var envNames = map[string]string{
	KeyBaseURL:          "MEDARYON_BASE_URL",
	KeyHelloURL:         "HELLO_URL",
	KeyConcurrency:      "CONCURRENCY",
	KeyRequests:         "REQUESTS",
	KeyNumUsers:         "NUM_USERS",
	KeyTimeout:          "MEDPROBE_TIMEOUT",
	KeyRetries:          "MEDPROBE_RETRIES",
	KeyBackoff:          "MEDPROBE_BACKOFF",
	KeyFailOnExhaustion: "MEDPROBE_FAIL_ON_EXHAUSTION",
	KeyDBPath:           "MEDPROBE_DB",
	KeyLogLevel:         "MEDPROBE_LOG_LEVEL",
	KeyLogFormat:        "MEDPROBE_LOG_FORMAT",
	KeyMetricsAddr:      "MEDPROBE_METRICS_ADDR",
	KeyTLSCA:            "MEDPROBE_TLS_CA",
	KeyTLSCert:          "MEDPROBE_TLS_CERT",
	KeyTLSKey:           "MEDPROBE_TLS_KEY",
	KeyTLSInsecure:      "MEDPROBE_TLS_INSECURE",
}

const (
	DefaultBaseURL     = "http://localhost:3000"
	DefaultConcurrency = 1000
	DefaultRequests    = 10000
	DefaultNumUsers    = 50
	DefaultTimeout     = 12 * time.Second
	DefaultRetries     = 2
	DefaultBackoff     = 400 * time.Millisecond

	MaxConcurrency = 5000
	MaxRequests    = 1000000
)

var (
	// ConfigDir is the global configuration directory (~/.medprobe)
	ConfigDir string

	// DatabasePath is the SQLite database for stress runs and e2e history
	DatabasePath string
)

// Settings is the resolved configuration of a medprobe invocation
type Settings struct {
	BaseURL          string
	HelloURL         string
	Concurrency      int
	Requests         int
	NumUsers         int
	Timeout          time.Duration
	Retries          int
	Backoff          time.Duration
	FailOnExhaustion bool
	DBPath           string
	LogLevel         string
	LogFormat        string
	MetricsAddr      string
	TLS              types.TLSConfig
}

// Initialize sets up the configuration directory.
// It creates ~/.medprobe/ if it doesn't exist.
func Initialize() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	ConfigDir = filepath.Join(homeDir, ".medprobe")
	DatabasePath = filepath.Join(ConfigDir, "medprobe.db")

	if err := os.MkdirAll(ConfigDir, DirPermissions); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", ConfigDir, err)
	}
	return nil
}

// New returns a viper instance with defaults and environment bindings
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault(KeyBaseURL, DefaultBaseURL)
	v.SetDefault(KeyHelloURL, "")
	v.SetDefault(KeyConcurrency, DefaultConcurrency)
	v.SetDefault(KeyRequests, DefaultRequests)
	v.SetDefault(KeyNumUsers, DefaultNumUsers)
	v.SetDefault(KeyTimeout, DefaultTimeout.String())
	v.SetDefault(KeyRetries, DefaultRetries)
	v.SetDefault(KeyBackoff, DefaultBackoff.String())
	v.SetDefault(KeyFailOnExhaustion, false)
	v.SetDefault(KeyDBPath, DatabasePath)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyMetricsAddr, "")
	v.SetDefault(KeyTLSCA, "")
	v.SetDefault(KeyTLSCert, "")
	v.SetDefault(KeyTLSKey, "")
	v.SetDefault(KeyTLSInsecure, false)

	for key, env := range envNames {
		_ = v.BindEnv(key, env)
	}
	return v
}

// ReadConfigFile merges the first medprobe.jsonc found in dirs into v.
// Missing files are not an error.
func ReadConfigFile(v *viper.Viper, dirs ...string) (string, error) {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, ConfigFileName)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}

		v.SetConfigType("json")
		if err := v.MergeConfig(bytes.NewReader(jsonc.ToJSON(data))); err != nil {
			return "", fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return path, nil
	}
	return "", nil
}

// Load resolves Settings from v (flags, env, config file, defaults)
func Load(v *viper.Viper) (*Settings, error) {
	timeout, err := parseDuration(v.GetString(KeyTimeout))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyTimeout, err)
	}
	backoff, err := parseDuration(v.GetString(KeyBackoff))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyBackoff, err)
	}

	s := &Settings{
		BaseURL:          NormalizeBaseURL(v.GetString(KeyBaseURL)),
		HelloURL:         strings.TrimSpace(v.GetString(KeyHelloURL)),
		Concurrency:      v.GetInt(KeyConcurrency),
		Requests:         v.GetInt(KeyRequests),
		NumUsers:         v.GetInt(KeyNumUsers),
		Timeout:          timeout,
		Retries:          v.GetInt(KeyRetries),
		Backoff:          backoff,
		FailOnExhaustion: v.GetBool(KeyFailOnExhaustion),
		DBPath:           v.GetString(KeyDBPath),
		LogLevel:         v.GetString(KeyLogLevel),
		LogFormat:        v.GetString(KeyLogFormat),
		MetricsAddr:      v.GetString(KeyMetricsAddr),
		TLS: types.TLSConfig{
			CAFile:             v.GetString(KeyTLSCA),
			CertFile:           v.GetString(KeyTLSCert),
			KeyFile:            v.GetString(KeyTLSKey),
			InsecureSkipVerify: v.GetBool(KeyTLSInsecure),
		},
	}
	if s.HelloURL == "" {
		s.HelloURL = s.BaseURL + "/api/hello"
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks value ranges
func (s *Settings) Validate() error {
	if s.BaseURL == "" {
		return fmt.Errorf("base URL is required (set %s)", envNames[KeyBaseURL])
	}
	if !strings.HasPrefix(s.BaseURL, "http://") && !strings.HasPrefix(s.BaseURL, "https://") {
		return fmt.Errorf("base URL must start with http:// or https://: %s", s.BaseURL)
	}
	if s.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be greater than 0")
	}
	if s.Concurrency > MaxConcurrency {
		return fmt.Errorf("concurrency cannot exceed %d", MaxConcurrency)
	}
	if s.Requests <= 0 {
		return fmt.Errorf("requests must be greater than 0")
	}
	if s.Requests > MaxRequests {
		return fmt.Errorf("requests cannot exceed %d", MaxRequests)
	}
	if s.NumUsers <= 0 {
		return fmt.Errorf("num_users must be greater than 0")
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if s.Retries < 0 {
		return fmt.Errorf("retries cannot be negative")
	}
	if s.Backoff < 0 {
		return fmt.Errorf("backoff cannot be negative")
	}
	return nil
}

// NormalizeBaseURL trims trailing slashes and a trailing /api segment, so
// that both "http://host:3000" and "http://host:3000/api" address the same
// API root.
func NormalizeBaseURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	u = strings.TrimSuffix(u, "/api")
	return strings.TrimRight(u, "/")
}

// parseDuration accepts Go durations ("12s", "400ms") and bare numbers of seconds ("12", "0.4")
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(raw)
}

package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const envPrefix = "BOOKMIRROR_"

type Config struct {
	ListenAddr      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s
	RequestTimeout  time.Duration // per-request timeout, sync runs included (ex: 2m)

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	DefaultUserID string // used when a request carries no X-User-ID (single-user setups)
	Platform      string // platform name stored on synced bookmarks (ex: "x")

	// OAuth2 (PKCE) against the platform
	ClientID       string
	ClientSecret   string // optional, confidential clients only
	RedirectURL    string
	AuthURL        string
	TokenURL       string
	Scopes         []string
	TokenSkew      time.Duration // refresh when the token expires within this window
	PendingAuthTTL time.Duration // lifetime of an unfinished authorization
	RefreshLockTTL time.Duration // upper bound of one refresh exchange

	// Remote API
	APIBaseURL       string
	APITimeout       time.Duration
	MaxPages         int           // page ceiling for one run
	PageSize         int           // items requested per page
	RateLimitMaxWait time.Duration // wait in-run for a 429 at most this long, else stop early

	// Media cache
	MediaDir           string
	MediaPublicPath    string // URL prefix the media directory is served under
	MediaWorkers       int
	MediaTimeout       time.Duration
	MediaMaxBytes      int64
	MediaSweepInterval time.Duration
	MediaTmpMaxAge     time.Duration

	// SQLite bookmark store
	DatabasePath string

	// Redis (credentials, pending authorizations, refresh locks)
	RedisAddr           string
	RedisUser           string
	RedisPassword       string
	RedisDB             int
	RedisDT             time.Duration // dial timeout
	RedisRT             time.Duration // read timeout
	RedisWT             time.Duration // write timeout
	RedisPoolSize       int
	RedisConnectTimeout time.Duration // total time to retry connecting
	RedisRetryInterval  time.Duration // initial wait between retries, doubles up to RedisMaxWait
	RedisMaxWait        time.Duration
	RedisPingTimeout    time.Duration
	RedisWarnThreshold  int

	// Sync endpoint throttling, per client IP
	SyncBurst      int
	SyncRefillPerM int
	TrustProxy     bool     // trust X-Forwarded-For / CF-Connecting-IP
	AllowedCIDRS   []string // restrict healthz/readyz, empty = open
	AllowedHosts   []string // Host headers accepted on API routes, empty = any
}

// Load reads configuration from the environment. When BOOKMIRROR_CONFIG_FILE
// points at a YAML file, its keys (env names without prefix, lower-cased,
// ex: "client_id") provide defaults beneath the environment.
func Load() (*Config, error) {
	src, err := newSource(os.Getenv(envPrefix + "CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	return src.load()
}

func (s *source) load() (*Config, error) {
	cfg := &Config{
		ListenAddr:      s.getenv("LISTEN_ADDR", ":8080"),
		ShutdownTimeout: s.mustDuration("SHUTDOWN_TIMEOUT", 5*time.Second),
		RequestTimeout:  s.mustDuration("REQUEST_TIMEOUT", 2*time.Minute),

		LogLevel:  s.getenv("LOG_LEVEL", "info"),
		PrettyLog: s.mustBool("PRETTY_LOG", false),

		DefaultUserID: s.getenv("DEFAULT_USER", ""),
		Platform:      s.getenv("PLATFORM", "x"),

		ClientID:       s.requireEnv("CLIENT_ID"),
		ClientSecret:   s.getenv("CLIENT_SECRET", ""),
		RedirectURL:    s.requireEnv("REDIRECT_URL"),
		AuthURL:        s.getenv("AUTH_URL", "https://x.com/i/oauth2/authorize"),
		TokenURL:       s.getenv("TOKEN_URL", "https://api.x.com/2/oauth2/token"),
		Scopes:         splitAndTrim(s.getenv("SCOPES", "tweet.read,users.read,bookmark.read,offline.access")),
		TokenSkew:      s.mustDuration("TOKEN_SKEW", 5*time.Minute),
		PendingAuthTTL: s.mustDuration("PENDING_AUTH_TTL", 10*time.Minute),
		RefreshLockTTL: s.mustDuration("REFRESH_LOCK_TTL", 30*time.Second),

		APIBaseURL:       s.getenv("API_BASE_URL", "https://api.x.com"),
		APITimeout:       s.mustDuration("API_TIMEOUT", 30*time.Second),
		MaxPages:         s.getenvInt("MAX_PAGES", 10),
		PageSize:         s.getenvInt("PAGE_SIZE", 100),
		RateLimitMaxWait: s.mustDuration("RATE_LIMIT_MAX_WAIT", 15*time.Second),

		MediaDir:           s.getenv("MEDIA_DIR", "/data/media"),
		MediaPublicPath:    s.getenv("MEDIA_PUBLIC_PATH", "/media"),
		MediaWorkers:       s.getenvInt("MEDIA_WORKERS", 6),
		MediaTimeout:       s.mustDuration("MEDIA_TIMEOUT", 20*time.Second),
		MediaMaxBytes:      int64(s.getenvInt("MEDIA_MAX_BYTES", 25<<20)),
		MediaSweepInterval: s.mustDuration("MEDIA_SWEEP_INTERVAL", time.Hour),
		MediaTmpMaxAge:     s.mustDuration("MEDIA_TMP_MAX_AGE", time.Hour),

		DatabasePath: s.getenv("DATABASE_PATH", "/data/bookmirror.db"),

		RedisAddr:           s.requireEnv("REDIS_ADDR"),
		RedisUser:           s.getenv("REDIS_USERNAME", ""),
		RedisPassword:       s.getenv("REDIS_PASSWORD", ""),
		RedisDB:             s.getenvInt("REDIS_DB", 0),
		RedisDT:             s.mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:             s.mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:             s.mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisPoolSize:       s.getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout: s.mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:  s.mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisMaxWait:        s.mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:    s.mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisWarnThreshold:  s.getenvInt("REDIS_WARN_THRESHOLD", 3),

		SyncBurst:      s.getenvInt("SYNC_BURST", 3),
		SyncRefillPerM: s.getenvInt("SYNC_REFILL_PER_MIN", 6),
		TrustProxy:     s.mustBool("TRUST_PROXY", false),
		AllowedCIDRS:   splitAndTrim(s.getenv("ALLOWED_CIDRS", "")),
		AllowedHosts:   splitAndTrim(s.getenv("ALLOWED_HOSTS", "")),
	}

	if err := s.err; err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.LogLevel == "debug" {
		redacted := *cfg
		redacted.ClientSecret = redact(cfg.ClientSecret)
		redacted.RedisPassword = redact(cfg.RedisPassword)
		log.Printf("[DEBUG] cfg: %+v\n", redacted)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var err error
	if c.MaxPages < 1 {
		err = multierr.Append(err, fmt.Errorf("%sMAX_PAGES must be >= 1, got %d", envPrefix, c.MaxPages))
	}
	if c.PageSize < 1 || c.PageSize > 100 {
		err = multierr.Append(err, fmt.Errorf("%sPAGE_SIZE must be in [1,100], got %d", envPrefix, c.PageSize))
	}
	if c.MediaWorkers < 1 {
		err = multierr.Append(err, fmt.Errorf("%sMEDIA_WORKERS must be >= 1, got %d", envPrefix, c.MediaWorkers))
	}
	if c.TokenSkew < 0 {
		err = multierr.Append(err, fmt.Errorf("%sTOKEN_SKEW must be >= 0", envPrefix))
	}
	return err
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***REDACTED***"
}

// source resolves a key from the environment first, then the YAML overlay.
// Problems are accumulated in err so every missing key is reported at once.
type source struct {
	file map[string]string
	err  error
}

func newSource(path string) (*source, error) {
	s := &source{file: map[string]string{}}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	for k, v := range raw {
		if v == nil {
			continue
		}
		if list, ok := v.([]any); ok {
			parts := make([]string, 0, len(list))
			for _, item := range list {
				parts = append(parts, fmt.Sprint(item))
			}
			s.file[strings.ToLower(k)] = strings.Join(parts, ",")
			continue
		}
		s.file[strings.ToLower(k)] = fmt.Sprint(v)
	}
	return s, nil
}

func (s *source) lookup(key string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return s.file[strings.ToLower(key)]
}

func (s *source) getenv(key, def string) string {
	if v := s.lookup(key); v != "" {
		return v
	}
	return def
}

func (s *source) requireEnv(key string) string {
	v := s.lookup(key)
	if v == "" {
		s.err = multierr.Append(s.err, fmt.Errorf("required setting %s%s is not set", envPrefix, key))
	}
	return v
}

func (s *source) getenvInt(key string, def int) int {
	if v := s.lookup(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			s.err = multierr.Append(s.err, fmt.Errorf("invalid integer for %s%s: %q", envPrefix, key, v))
			return def
		}
		return i
	}
	return def
}

func (s *source) mustBool(key string, def bool) bool {
	if v := s.lookup(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func (s *source) mustDuration(key string, def time.Duration) time.Duration {
	if v := s.lookup(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

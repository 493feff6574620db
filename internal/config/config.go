package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Backend  BackendConfig  `yaml:"backend" mapstructure:"backend"`
	Auth     AuthConfig     `yaml:"auth" mapstructure:"auth"`
	Tiles    TilesConfig    `yaml:"tiles" mapstructure:"tiles"`
	Viewport ViewportConfig `yaml:"viewport" mapstructure:"viewport"`
	Drawing  DrawingConfig  `yaml:"drawing" mapstructure:"drawing"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// BackendConfig points at the hosted backend (row API, auth, realtime, tiles).
type BackendConfig struct {
	URL          string  `yaml:"url" mapstructure:"url"`
	AnonKey      string  `yaml:"anon_key" mapstructure:"anon_key"`
	RESTPath     string  `yaml:"rest_path" mapstructure:"rest_path"`
	AuthPath     string  `yaml:"auth_path" mapstructure:"auth_path"`
	RealtimePath string  `yaml:"realtime_path" mapstructure:"realtime_path"`
	TilesPath    string  `yaml:"tiles_path" mapstructure:"tiles_path"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// AuthConfig holds credentials for headless sign-in. Either a password
// grant or a pre-issued access token may be supplied.
type AuthConfig struct {
	Email        string `yaml:"email" mapstructure:"email"`
	Password     string `yaml:"password" mapstructure:"password"`
	AccessToken  string `yaml:"access_token" mapstructure:"access_token"`
	RefreshToken string `yaml:"refresh_token" mapstructure:"refresh_token"`
}

// TilesConfig configures vector tile sources and the client tile cache.
type TilesConfig struct {
	PinsLayer           string `yaml:"pins_layer" mapstructure:"pins_layer"`
	DrawingsLayer       string `yaml:"drawings_layer" mapstructure:"drawings_layer"`
	CacheSize           int    `yaml:"cache_size" mapstructure:"cache_size"`
	CacheTTLSecs        int    `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	PrefetchConcurrency int    `yaml:"prefetch_concurrency" mapstructure:"prefetch_concurrency"`
}

// ViewportConfig configures the default camera and recenter behavior.
type ViewportConfig struct {
	DefaultLat   float64 `yaml:"default_lat" mapstructure:"default_lat"`
	DefaultLon   float64 `yaml:"default_lon" mapstructure:"default_lon"`
	DefaultZoom  float64 `yaml:"default_zoom" mapstructure:"default_zoom"`
	FitPadding   int     `yaml:"fit_padding" mapstructure:"fit_padding"`
	AnimationMS  int     `yaml:"animation_ms" mapstructure:"animation_ms"`
	Tolerance    float64 `yaml:"tolerance" mapstructure:"tolerance"`
	CanvasWidth  int     `yaml:"canvas_width" mapstructure:"canvas_width"`
	CanvasHeight int     `yaml:"canvas_height" mapstructure:"canvas_height"`
}

// DrawingConfig configures freehand drawing submission.
type DrawingConfig struct {
	// MinPoints is the smallest path that is submitted on release. Shorter
	// paths are dropped locally.
	MinPoints int `yaml:"min_points" mapstructure:"min_points"`
}

// StoreConfig selects the row API implementation.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the local controller server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MAPBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("backend.url", "")
	v.SetDefault("backend.anon_key", "")
	v.SetDefault("backend.rest_path", "/rest/v1")
	v.SetDefault("backend.auth_path", "/auth/v1")
	v.SetDefault("backend.realtime_path", "/realtime/v1/websocket")
	v.SetDefault("backend.tiles_path", "/tiles")
	v.SetDefault("backend.timeout_secs", 30)
	v.SetDefault("backend.rate_limit_rps", 20.0)
	v.SetDefault("auth.email", "")
	v.SetDefault("auth.password", "")
	v.SetDefault("auth.access_token", "")
	v.SetDefault("auth.refresh_token", "")
	v.SetDefault("tiles.pins_layer", "public.pins")
	v.SetDefault("tiles.drawings_layer", "public.drawings")
	v.SetDefault("tiles.cache_size", 2000)
	v.SetDefault("tiles.cache_ttl_secs", 600)
	v.SetDefault("tiles.prefetch_concurrency", 4)
	v.SetDefault("viewport.default_lat", 50.0)
	v.SetDefault("viewport.default_lon", 15.0)
	v.SetDefault("viewport.default_zoom", 1.5)
	v.SetDefault("viewport.fit_padding", 100)
	v.SetDefault("viewport.animation_ms", 1000)
	v.SetDefault("viewport.tolerance", 0.00001)
	v.SetDefault("viewport.canvas_width", 1280)
	v.SetDefault("viewport.canvas_height", 800)
	v.SetDefault("drawing.min_points", 1)
	v.SetDefault("store.driver", "rest")
	v.SetDefault("store.database_url", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	cfg.Backend.URL = strings.TrimRight(cfg.Backend.URL, "/")

	return &cfg, nil
}

// Validate checks the settings the editor cannot run without. A missing
// backend URL or anon key is fatal; there is no degraded mode.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return eris.New("config: backend.url is required (MAPBOARD_BACKEND_URL)")
	}
	if !strings.HasPrefix(c.Backend.URL, "http://") && !strings.HasPrefix(c.Backend.URL, "https://") {
		return eris.Errorf("config: backend.url must be an http(s) URL, got %q", c.Backend.URL)
	}
	if c.Backend.AnonKey == "" {
		return eris.New("config: backend.anon_key is required (MAPBOARD_BACKEND_ANON_KEY)")
	}
	switch c.Store.Driver {
	case "rest", "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url is required for the postgres driver")
		}
	default:
		return eris.Errorf("config: unsupported store driver %q", c.Store.Driver)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/stwalsh4118/reach/internal/routing"
)

// MinRequestInterval is the smallest spacing allowed between routing requests.
// The routing provider enforces a per-second quota.
const MinRequestInterval = 900 * time.Millisecond

// ErrMissingRoutingKey is returned when a routing stage runs without a credential.
var ErrMissingRoutingKey = errors.New("ROUTING_API_KEY is required")

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	CORS     CORSConfig
	Routing  RoutingConfig
	Geocoder GeocoderConfig
	Redis    RedisConfig
	Boundary BoundaryConfig
	Registry RegistryConfig
	Export   ExportConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	PoolMin  int
	PoolMax  int
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Origins []string
}

// RoutingConfig holds isoline routing provider settings.
// APIKey is read once at startup and handed to the routing client.
type RoutingConfig struct {
	APIKey          string
	BaseURL         string
	Minutes         int
	TransportMode   string
	OptimizeFor     string
	Traffic         bool
	RequestInterval time.Duration
	Concurrency     int
	Timeout         time.Duration
}

// GeocoderConfig holds address geocoding settings.
type GeocoderConfig struct {
	BaseURL   string
	Benchmark string
	Interval  time.Duration
	CacheTTL  time.Duration
}

// RedisConfig holds the geocode cache connection. An empty Addr disables caching.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// BoundaryConfig selects the administrative boundaries to download.
type BoundaryConfig struct {
	URLTemplate string
	StateFIPS   string
	Year        int
	Resolution  string
}

// RegistryConfig describes the facility registry file and its column names.
type RegistryConfig struct {
	Path               string
	IDColumn           string
	NameColumn         string
	AddressColumn      string
	CityColumn         string
	StateColumn        string
	ZipColumn          string
	StatusColumn       string
	UnavailablePattern string
}

// ExportConfig holds where rendered layers are written.
type ExportConfig struct {
	Dir string
}

// Load reads configuration from environment variables and an optional .env file.
// It uses viper to read values and provides sensible defaults for development.
func Load() (*Config, error) {
	v := viper.New()

	// A missing .env is fine; the environment alone is enough in production
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	// Set defaults for development
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_HOST", "host.docker.internal")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "reach")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:3001")

	v.SetDefault("ROUTING_BASE_URL", "https://isoline.router.hereapi.com/v8")
	v.SetDefault("ISOCHRONE_MINUTES", 45)
	v.SetDefault("TRANSPORT_MODE", "car")
	v.SetDefault("ROUTING_OPTIMIZE_FOR", "quality")
	v.SetDefault("ROUTING_TRAFFIC", false)
	v.SetDefault("REQUEST_INTERVAL", "1s")
	v.SetDefault("FETCH_CONCURRENCY", 1)
	v.SetDefault("HTTP_TIMEOUT", "30s")

	v.SetDefault("GEOCODER_BASE_URL", "https://geocoding.geo.census.gov/geocoder")
	v.SetDefault("GEOCODER_BENCHMARK", "Public_AR_Current")
	v.SetDefault("GEOCODE_INTERVAL", "200ms")
	v.SetDefault("GEOCODE_CACHE_TTL", "720h")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("BOUNDARY_URL_TEMPLATE", "https://tigerweb.geo.census.gov/arcgis/rest/services/TIGERweb/State_County/MapServer/1/query?where=STATE%3D%27{state}%27&outFields=GEOID,NAME,STATE&outSR=4269&f=geojson")
	v.SetDefault("BOUNDARY_YEAR", 2023)
	v.SetDefault("BOUNDARY_RESOLUTION", "20m")

	v.SetDefault("REGISTRY_PATH", "data/facilities.csv")
	v.SetDefault("REGISTRY_COL_ID", "id")
	v.SetDefault("REGISTRY_COL_NAME", "name")
	v.SetDefault("REGISTRY_COL_ADDRESS", "address")
	v.SetDefault("REGISTRY_COL_CITY", "city")
	v.SetDefault("REGISTRY_COL_STATE", "state")
	v.SetDefault("REGISTRY_COL_ZIP", "zip")
	v.SetDefault("REGISTRY_COL_STATUS", "status")
	v.SetDefault("UNAVAILABLE_PATTERN", "no longer")
	v.SetDefault("EXPORT_DIR", "out")

	// Bind environment variables
	v.AutomaticEnv()

	// Build configuration
	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetString("PORT"),
			Env:  v.GetString("ENV"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			PoolMin:  v.GetInt("DB_POOL_MIN"),
			PoolMax:  v.GetInt("DB_POOL_MAX"),
		},
		CORS: CORSConfig{
			Origins: parseOrigins(v.GetString("CORS_ORIGINS")),
		},
		Routing: RoutingConfig{
			APIKey:          strings.TrimSpace(v.GetString("ROUTING_API_KEY")),
			BaseURL:         v.GetString("ROUTING_BASE_URL"),
			Minutes:         v.GetInt("ISOCHRONE_MINUTES"),
			TransportMode:   v.GetString("TRANSPORT_MODE"),
			OptimizeFor:     strings.ToLower(strings.TrimSpace(v.GetString("ROUTING_OPTIMIZE_FOR"))),
			Traffic:         v.GetBool("ROUTING_TRAFFIC"),
			RequestInterval: v.GetDuration("REQUEST_INTERVAL"),
			Concurrency:     v.GetInt("FETCH_CONCURRENCY"),
			Timeout:         v.GetDuration("HTTP_TIMEOUT"),
		},
		Geocoder: GeocoderConfig{
			BaseURL:   v.GetString("GEOCODER_BASE_URL"),
			Benchmark: v.GetString("GEOCODER_BENCHMARK"),
			Interval:  v.GetDuration("GEOCODE_INTERVAL"),
			CacheTTL:  v.GetDuration("GEOCODE_CACHE_TTL"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Boundary: BoundaryConfig{
			URLTemplate: v.GetString("BOUNDARY_URL_TEMPLATE"),
			StateFIPS:   v.GetString("BOUNDARY_STATE_FIPS"),
			Year:        v.GetInt("BOUNDARY_YEAR"),
			Resolution:  v.GetString("BOUNDARY_RESOLUTION"),
		},
		Registry: RegistryConfig{
			Path:               v.GetString("REGISTRY_PATH"),
			IDColumn:           v.GetString("REGISTRY_COL_ID"),
			NameColumn:         v.GetString("REGISTRY_COL_NAME"),
			AddressColumn:      v.GetString("REGISTRY_COL_ADDRESS"),
			CityColumn:         v.GetString("REGISTRY_COL_CITY"),
			StateColumn:        v.GetString("REGISTRY_COL_STATE"),
			ZipColumn:          v.GetString("REGISTRY_COL_ZIP"),
			StatusColumn:       v.GetString("REGISTRY_COL_STATUS"),
			UnavailablePattern: v.GetString("UNAVAILABLE_PATTERN"),
		},
		Export: ExportConfig{
			Dir: v.GetString("EXPORT_DIR"),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present and valid.
// Routing credentials are checked separately by ValidateRouting so that
// read-only commands can run without them.
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	// Validate database config
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Database.Port == "" {
		return fmt.Errorf("DB_PORT is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Database.PoolMin < 0 {
		return fmt.Errorf("DB_POOL_MIN must be non-negative")
	}
	if c.Database.PoolMax < 1 {
		return fmt.Errorf("DB_POOL_MAX must be at least 1")
	}
	if c.Database.PoolMin > c.Database.PoolMax {
		return fmt.Errorf("DB_POOL_MIN must be less than or equal to DB_POOL_MAX")
	}

	// Validate CORS config
	if len(c.CORS.Origins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required")
	}

	// Validate routing parameters (not the credential)
	if c.Routing.Minutes <= 0 {
		return fmt.Errorf("ISOCHRONE_MINUTES must be positive")
	}
	if c.Routing.TransportMode == "" {
		return fmt.Errorf("TRANSPORT_MODE is required")
	}
	if !routing.ValidOptimizeFor(c.Routing.OptimizeFor) {
		return fmt.Errorf("ROUTING_OPTIMIZE_FOR must be one of %s, %s, %s, got %q",
			routing.OptimizeQuality, routing.OptimizePerformance, routing.OptimizeBalanced, c.Routing.OptimizeFor)
	}
	if c.Routing.RequestInterval < MinRequestInterval {
		return fmt.Errorf("REQUEST_INTERVAL must be at least %s", MinRequestInterval)
	}
	if c.Routing.Concurrency < 1 {
		return fmt.Errorf("FETCH_CONCURRENCY must be at least 1")
	}

	if c.Registry.UnavailablePattern == "" {
		return fmt.Errorf("UNAVAILABLE_PATTERN is required")
	}

	return nil
}

// ValidateRouting checks that the routing provider credential is present.
func (c *Config) ValidateRouting() error {
	if c.Routing.APIKey == "" {
		return ErrMissingRoutingKey
	}
	if c.Routing.BaseURL == "" {
		return fmt.Errorf("ROUTING_BASE_URL is required")
	}
	return nil
}

// TimeBudget returns the isochrone travel-time budget.
func (c RoutingConfig) TimeBudget() time.Duration {
	return time.Duration(c.Minutes) * time.Minute
}

// parseOrigins splits a comma-separated string of origins into a slice.
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Resource is one pay-walled path.
type Resource struct {
	Path        string      `yaml:"path"`
	Amount      string      `yaml:"amount"` // smallest currency unit
	Description string      `yaml:"description"`
	Data        interface{} `yaml:"data"`
}

// DefaultResource is served when no RESOURCES_FILE is configured.
var DefaultResource = Resource{
	Path:        "/api/premium",
	Amount:      "100000000000000000",
	Description: "Access to premium AI insights",
	Data:        "This is premium AI-generated content. The secret of the universe is 42.",
}

type Config struct {
	Port          string
	Env           string
	DBSource      string
	StoreBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	InvoiceTTL    time.Duration
	PaymentToken  string
	CORSOrigins   []string
	LogFormat     string
	Resources     []Resource
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:          getenv("SERVER_PORT", "8080"),
		Env:           getenv("ENVIRONMENT", "development"),
		DBSource:      os.Getenv("DB_SOURCE"),
		StoreBackend:  getenv("STORE_BACKEND", BackendMemory),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		PaymentToken:  getenv("PAYMENT_TOKEN", "0x0000000000000000000000000000000000000000"),
		LogFormat:     getenv("LOG_FORMAT", "text"),
	}

	db, err := strconv.Atoi(getenv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = db

	cfg.InvoiceTTL, err = time.ParseDuration(getenv("INVOICE_TTL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid INVOICE_TTL: %w", err)
	}

	for _, origin := range strings.Split(getenv("CORS_ORIGINS", "*"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
		}
	}

	if path := os.Getenv("RESOURCES_FILE"); path != "" {
		cfg.Resources, err = LoadResources(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg.Resources = []Resource{DefaultResource}
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadResources reads the resource catalogue from a YAML file of the form
//
//	resources:
//	  - path: /api/premium
//	    amount: "100000000000000000"
//	    description: Access to premium AI insights
//	    data: ...
func LoadResources(path string) ([]Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read resources file: %w", err)
	}

	var file struct {
		Resources []Resource `yaml:"resources"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse resources file: %w", err)
	}
	return file.Resources, nil
}

// reservedPaths are routed by the server itself.
var reservedPaths = map[string]bool{
	"/verify":  true,
	"/health":  true,
	"/metrics": true,
}

func validateConfig(cfg *Config) error {
	switch cfg.StoreBackend {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if cfg.DBSource == "" {
			return fmt.Errorf("DB_SOURCE environment variable is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	if cfg.InvoiceTTL <= 0 {
		return fmt.Errorf("INVOICE_TTL must be positive")
	}

	if len(cfg.Resources) == 0 {
		return fmt.Errorf("at least one resource is required")
	}
	seen := make(map[string]bool)
	for _, res := range cfg.Resources {
		if !strings.HasPrefix(res.Path, "/") {
			return fmt.Errorf("resource path %q must start with /", res.Path)
		}
		if reservedPaths[res.Path] || strings.HasPrefix(res.Path, "/invoices/") {
			return fmt.Errorf("resource path %q is reserved", res.Path)
		}
		if seen[res.Path] {
			return fmt.Errorf("duplicate resource path %q", res.Path)
		}
		seen[res.Path] = true

		n, ok := new(big.Int).SetString(res.Amount, 10)
		if !ok || n.Sign() < 0 {
			return fmt.Errorf("resource %s: amount %q is not a non-negative integer", res.Path, res.Amount)
		}
	}
	return nil
}

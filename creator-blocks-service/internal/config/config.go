package config

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/events"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/gateway"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/pricing"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/service"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/vidhost"
)

// Config represents the complete configuration for the creator-blocks service
type Config struct {
	Server    ServerConfig   `yaml:"server"`
	Database  DatabaseConfig `yaml:"database"`
	Blocks    pricing.Config `yaml:"blocks"`
	Purchases service.Config `yaml:"purchases"`
	Gateway   gateway.Config `yaml:"gateway"`
	VideoHost vidhost.Config `yaml:"video_host"`
	NATS      events.Config  `yaml:"nats"`
	LogLevel  string         `yaml:"log_level"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	URL            string        `yaml:"url"`
	MaxConnections int           `yaml:"max_connections"`
	MinConnections int           `yaml:"min_connections"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxLifetime    time.Duration `yaml:"max_lifetime"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.Blocks.BlockSizeGB <= 0 {
		return fmt.Errorf("block size must be positive")
	}
	if c.Blocks.PricePerBlock < 0 {
		return fmt.Errorf("price per block cannot be negative")
	}
	if c.Blocks.GraceMonths < 0 {
		return fmt.Errorf("grace months cannot be negative")
	}
	if c.Blocks.PromoExpiryDays <= 0 {
		return fmt.Errorf("promo expiry days must be positive")
	}

	if c.Purchases.PurchaseTTL <= 0 {
		return fmt.Errorf("purchase TTL must be positive")
	}
	if c.Purchases.ReservationTimeout <= 0 {
		return fmt.Errorf("reservation timeout must be positive")
	}

	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("payment gateway base URL is required")
	}
	if c.VideoHost.BaseURL == "" {
		return fmt.Errorf("video host base URL is required")
	}

	return nil
}

// GetDatabaseConfig returns database configuration for pgxpool
func (c *Config) GetDatabaseConfig() (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(c.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = int32(c.Database.MaxConnections)
	config.MinConns = int32(c.Database.MinConnections)
	config.MaxConnLifetime = c.Database.MaxLifetime
	config.MaxConnIdleTime = c.Database.IdleTimeout

	return config, nil
}

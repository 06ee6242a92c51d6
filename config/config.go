package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/fixturelab/tournament-core/brackets"
)

// Config holds all runtime configuration for the service.
type Config struct {
	DatabaseURL  string
	JWTSecretKey string
	ServerPort   int

	// TieBreakRule is the secondary ordering for equal points in group
	// qualification. Required to be explicit; there is no implicit default
	// beyond the documented one.
	TieBreakRule brackets.TieBreakRule
	// SeedingTablePath points at the static JSON seeding configuration.
	SeedingTablePath string
	// SweepInterval controls the pipeline recovery sweeper.
	SweepInterval time.Duration

	// Cloudflare R2 snapshot archiving. Optional: archiving is disabled when
	// these are unset.
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicBaseURL   string
}

// ArchivingEnabled reports whether all R2 settings are present.
func (c *Config) ArchivingEnabled() bool {
	return c.R2AccountID != "" && c.R2AccessKeyID != "" && c.R2SecretAccessKey != "" &&
		c.R2BucketName != "" && c.R2PublicBaseURL != ""
}

// Load reads configuration from environment variables, optionally loading a
// .env file first (useful for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	jwtKey := os.Getenv("JWT_SECRET_KEY")
	if jwtKey == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY environment variable is not set")
	}

	portStr := os.Getenv("SERVER_PORT")
	if portStr == "" {
		portStr = "8080"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT environment variable: %w", err)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", port)
	}

	tieBreak := brackets.TieBreakRule(os.Getenv("TIE_BREAK_RULE"))
	if tieBreak == "" {
		tieBreak = brackets.TieBreakMatchesPlayed
	}
	if !tieBreak.Valid() {
		return nil, fmt.Errorf("invalid TIE_BREAK_RULE %q (want %q or %q)",
			tieBreak, brackets.TieBreakMatchesPlayed, brackets.TieBreakParticipantID)
	}

	seedingPath := os.Getenv("SEEDING_TABLE_PATH")
	if seedingPath == "" {
		return nil, fmt.Errorf("SEEDING_TABLE_PATH environment variable is not set")
	}

	sweepInterval := 30 * time.Second
	if raw := os.Getenv("SWEEP_INTERVAL"); raw != "" {
		sweepInterval, err = time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid SWEEP_INTERVAL environment variable: %w", err)
		}
		if sweepInterval < time.Second {
			return nil, fmt.Errorf("SWEEP_INTERVAL must be at least 1s, got %s", sweepInterval)
		}
	}

	return &Config{
		DatabaseURL:       dbURL,
		JWTSecretKey:      jwtKey,
		ServerPort:        port,
		TieBreakRule:      tieBreak,
		SeedingTablePath:  seedingPath,
		SweepInterval:     sweepInterval,
		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2BucketName:      os.Getenv("R2_BUCKET_NAME"),
		R2PublicBaseURL:   os.Getenv("R2_PUBLIC_BASE_URL"),
	}, nil
}

// Package config builds process configuration from environment variables so
// main stays lean.
package config

import (
	"os"
	"strings"
)

// Server captures process-level configuration. Service parameters (fees,
// prices, admin identity) live in each service's config record, not here.
type Server struct {
	Addr          string
	JWTSigningKey string

	// DerivationSeed feeds custody-address derivation. Must be stable
	// across restarts or escrow addresses stop resolving.
	DerivationSeed string

	KafkaBrokers []string
	KafkaTopic   string

	RedisAddr string

	PostgresDSN string
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	return Server{
		Addr:           getenv("CUSTODIA_ADDR", ":8080"),
		JWTSigningKey:  getenv("CUSTODIA_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		DerivationSeed: getenv("CUSTODIA_DERIVATION_SEED", "dev-derivation-seed"),
		KafkaBrokers:   split(os.Getenv("CUSTODIA_KAFKA_BROKERS")),
		KafkaTopic:     getenv("CUSTODIA_KAFKA_TOPIC", "custodia.settlement-events"),
		RedisAddr:      os.Getenv("CUSTODIA_REDIS_ADDR"),
		PostgresDSN:    os.Getenv("CUSTODIA_POSTGRES_DSN"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func split(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

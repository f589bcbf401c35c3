package config

import (
	"os"
	"time"
)

// Agent captures process-level configuration.
type Agent struct {
	Addr            string
	BackendURL      string
	GatewayURL      string
	ChainRPCURL     string
	ChainName       string
	ContractAddress string
	ThresholdURL    string
	SessionDir      string
	LogLevel        string
	Tracing         string
	ProofTTL        time.Duration
	ConfirmInterval time.Duration
}

// FromEnv builds an Agent config from environment variables so main stays lean.
func FromEnv() Agent {
	cfg := Agent{
		Addr:            envOr("CONSENTIS_ADDR", ":8090"),
		BackendURL:      envOr("CONSENTIS_API_URL", "http://localhost:8080"),
		GatewayURL:      envOr("CONSENTIS_GATEWAY_URL", "http://localhost:8081/ipfs"),
		ChainRPCURL:     envOr("CONSENTIS_CHAIN_RPC_URL", "http://localhost:8545"),
		ChainName:       envOr("CONSENTIS_CHAIN", "sepolia"),
		ContractAddress: os.Getenv("CONSENTIS_CONTRACT_ADDRESS"),
		ThresholdURL:    envOr("CONSENTIS_THRESHOLD_URL", "http://localhost:7470"),
		SessionDir:      envOr("CONSENTIS_SESSION_DIR", defaultSessionDir()),
		LogLevel:        envOr("CONSENTIS_LOG_LEVEL", "info"),
		Tracing:         envOr("CONSENTIS_TRACING", "none"),
		ProofTTL:        24 * time.Hour,
		ConfirmInterval: 2 * time.Second,
	}

	if ttl := os.Getenv("CONSENTIS_PROOF_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			cfg.ProofTTL = d
		}
	}
	if interval := os.Getenv("CONSENTIS_CONFIRM_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.ConfirmInterval = d
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultSessionDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home + "/.consentis"
}

package config

import (
	"errors"
	"strings"

	platformconfig "github.com/example/course-platform/internal/platform/config"
)

type BFFConfig struct {
	JWTSecret        []byte
	ProgressGRPCAddr string
	NATSURL          string
	AsyncWrites      bool
	RateLimitRPS     float64
	RateLimitBurst   int
}

func LoadBFF() (BFFConfig, error) {
	secret := strings.TrimSpace(platformconfig.String("JWT_SECRET", ""))
	if secret == "" {
		return BFFConfig{}, errors.New("JWT_SECRET is required")
	}
	addr := platformconfig.String("PROGRESS_GRPC_ADDR", "")
	if addr == "" {
		return BFFConfig{}, errors.New("PROGRESS_GRPC_ADDR is required")
	}
	return BFFConfig{
		JWTSecret:        []byte(secret),
		ProgressGRPCAddr: addr,
		NATSURL:          platformconfig.String("NATS_URL", ""),
		AsyncWrites:      platformconfig.Bool("BFF_ASYNC_WRITES", true),
		RateLimitRPS:     platformconfig.Float("RATE_LIMIT_RPS", 10),
		RateLimitBurst:   platformconfig.Int("RATE_LIMIT_BURST", 20),
	}, nil
}

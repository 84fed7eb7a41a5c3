// Package config loads the core's YAML configuration, with environment
// variables taking precedence over file values and an optional remote
// config source fetched over HTTP.
package config

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/YASSERRMD/AiMesh/ratelimit"
	"github.com/YASSERRMD/AiMesh/router"
	"github.com/YASSERRMD/AiMesh/storage"
	"github.com/YASSERRMD/AiMesh/utils/env"
)

// Config is the full process configuration.
type Config struct {
	// ListenAddr is the TCP address the transport server binds.
	ListenAddr string `yaml:"listen_addr"`

	// AdminAddr is the HTTP address the admin API binds.
	AdminAddr string `yaml:"admin_addr"`

	// ValkeyEndpoint is the durable store backend. Empty disables
	// durability and falls back to an in-memory store.
	ValkeyEndpoint string `yaml:"valkey_endpoint"`

	// RouterWeights are the cost/load/latency scoring weights.
	RouterWeights router.Weights `yaml:"router_weights"`

	// UnhealthyThreshold is consecutive failures before an endpoint is
	// marked Unhealthy.
	UnhealthyThreshold int `yaml:"unhealthy_threshold"`

	// RateLimit holds the global and per-key token bucket settings.
	RateLimit ratelimit.Config `yaml:"rate_limit"`

	// DedupTTLSeconds is how long a fingerprint's cached result is
	// reused before it must be recomputed.
	DedupTTLSeconds int64 `yaml:"dedup_ttl_seconds"`

	// SchedulerMaxSize bounds the pending-message queue. Zero means
	// unbounded.
	SchedulerMaxSize int `yaml:"scheduler_max_size"`

	// SchedulerDropExpired controls whether Pop silently discards
	// expired requests instead of returning them.
	SchedulerDropExpired bool `yaml:"scheduler_drop_expired"`

	// Storage names the durable store's collections and timeouts.
	Storage storage.Config `yaml:"storage"`

	// WorkerCount is the number of goroutines draining the scheduler and
	// running the suspending half of the pipeline (routing through
	// dispatch) concurrently.
	WorkerCount int `yaml:"worker_count"`
}

// DefaultConfig returns the configuration the process starts from before
// applying file and environment overrides.
func DefaultConfig() Config {
	return Config{
		ListenAddr:           ":7420",
		AdminAddr:            ":7421",
		ValkeyEndpoint:       "",
		RouterWeights:        router.DefaultWeights(),
		UnhealthyThreshold:   router.DefaultUnhealthyThreshold,
		RateLimit:            ratelimit.DefaultConfig(),
		DedupTTLSeconds:      3600,
		SchedulerMaxSize:     100000,
		SchedulerDropExpired: true,
		Storage:              storage.DefaultConfig(),
		WorkerCount:          8,
	}
}

// LoadConfig loads configuration from path (or CONFIG_SOURCE, which may be
// an http(s) URL), overlays it onto DefaultConfig, then applies
// environment variable overrides. Environment variables win over both.
func LoadConfig(path string, logger *zap.SugaredLogger) (*Config, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	config := DefaultConfig()

	configSource := env.OptionalStringVariable("CONFIG_SOURCE", path)
	configToken := env.OptionalStringVariable("CONFIG_TOKEN", "")

	configData, err := func(source, token string) ([]byte, error) {
		if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
			logger.Infow("fetching remote config", "url", source)
			return fetchRemoteConfig(source, token)
		}
		if source == "" {
			return nil, nil
		}
		logger.Infow("loading local config", "path", source)
		return os.ReadFile(source)
	}(configSource, configToken)
	if err != nil {
		return nil, fmt.Errorf("failed to get config data: %v", err)
	}

	if len(configData) > 0 {
		if err := yaml.Unmarshal(configData, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %v", err)
		}
	}

	config.ListenAddr = env.OptionalStringVariable("AIMESH_LISTEN_ADDR", config.ListenAddr)
	config.AdminAddr = env.OptionalStringVariable("AIMESH_ADMIN_ADDR", config.AdminAddr)
	config.ValkeyEndpoint = env.OptionalStringVariable("VALKEY_ENDPOINT", config.ValkeyEndpoint)
	config.UnhealthyThreshold = env.OptionalIntVariable("AIMESH_UNHEALTHY_THRESHOLD", config.UnhealthyThreshold)
	config.DedupTTLSeconds = int64(env.OptionalIntVariable("AIMESH_DEDUP_TTL_SECONDS", int(config.DedupTTLSeconds)))
	config.SchedulerMaxSize = env.OptionalIntVariable("AIMESH_SCHEDULER_MAX_SIZE", config.SchedulerMaxSize)
	config.SchedulerDropExpired = env.OptionalBoolVariable("AIMESH_SCHEDULER_DROP_EXPIRED", config.SchedulerDropExpired)
	config.WorkerCount = env.OptionalIntVariable("AIMESH_WORKER_COUNT", config.WorkerCount)

	return &config, nil
}

func fetchRemoteConfig(url string, token string) ([]byte, error) {
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch config: HTTP %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

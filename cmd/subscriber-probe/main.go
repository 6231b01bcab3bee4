// Command subscriber-probe performs a single backend request from the
// command line. It exists to exercise the client against a real backend:
// run it twice and the second call should be served from the ETag cache.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/entitlekit/backend-client/pkg/api"
	"github.com/entitlekit/backend-client/pkg/etag"
	"github.com/entitlekit/backend-client/pkg/httpclient"
	"github.com/entitlekit/backend-client/pkg/logging"
)

func main() {
	configPath := flag.String("config", "probe.yaml", "path to config file")
	appUserID := flag.String("user", "", "app user ID (defaults to config value)")
	endpointName := flag.String("endpoint", "offerings", "endpoint to call: offerings, customer_info, entitlement_mapping")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	})

	userID := cfg.AppUserID
	if *appUserID != "" {
		userID = *appUserID
	}

	store, cleanup, err := buildStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build cache store")
	}
	defer cleanup()

	clientCfg := httpclient.DefaultConfig(cfg.Platform, cfg.PlatformVersion, cfg.ClientVersion, cfg.BundleID)
	clientCfg.AppVersion = cfg.AppVersion
	clientCfg.Locale = cfg.Locale
	clientCfg.Store = store

	client, err := httpclient.New(clientCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create client")
	}
	defer client.Close()

	var endpoint api.Endpoint
	switch *endpointName {
	case "offerings":
		endpoint = api.GetOfferings(userID)
	case "customer_info":
		endpoint = api.GetCustomerInfo(userID)
	case "entitlement_mapping":
		endpoint = api.GetProductEntitlementMapping
	default:
		logger.Fatal().Str("endpoint", *endpointName).Msg("Unknown endpoint")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := client.PerformRequest(ctx, cfg.BaseURL, endpoint, nil, nil)
	if err != nil {
		logger.Fatal().Err(err).Str("endpoint", endpoint.Name).Msg("Request failed")
	}

	logger.Info().
		Str("endpoint", endpoint.Name).
		Int("status", result.ResponseCode).
		Str("origin", string(result.Origin)).
		Msg("Request completed")

	out, err := json.MarshalIndent(result.Payload, "", "  ")
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to render payload")
	}
	fmt.Println(string(out))
}

// buildStore picks the cache store from config: Redis when an address is
// configured, LevelDB when a path is, in-memory otherwise.
func buildStore(cfg Config) (etag.Store, func(), error) {
	if cfg.Cache.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		return etag.NewRedisStore(client, cfg.RedisTTLDuration()), func() { client.Close() }, nil
	}

	if cfg.Cache.Path != "" {
		store, err := etag.OpenLevelDBStore(cfg.Cache.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}

	return etag.NewMemoryStore(), func() {}, nil
}

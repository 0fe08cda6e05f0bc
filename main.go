package main

import (
	"context"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cargolane/notify-core/api"
	"github.com/cargolane/notify-core/internal/registry"
	"github.com/cargolane/notify-core/internal/util"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configurations
	config, err := util.LoadConfig("./app.env")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config file 😣")
	}

	log.Info().Msg("configurations loaded successfully ✅")

	// Active-stream registry: shared via Redis when configured, otherwise
	// process-local.
	slotTTL := 3 * config.StreamHeartbeatInterval
	var streamRegistry registry.Registry
	if config.RedisServerAddress != "" {
		redisDb := redis.NewClient(&redis.Options{
			Addr:     config.RedisServerAddress,
			Password: "", // no password set
			DB:       0,  // use default DB
		})

		if err := redisDb.Ping(context.Background()).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis 😣")
		}
		log.Info().Msg("connected to redis ✅")

		streamRegistry = registry.NewRedisRegistry(redisDb, config.StreamMaxConnectionsPerUser, slotTTL)
	} else {
		log.Info().Msg("no redis configured, using in-memory stream registry")
		streamRegistry = registry.NewMemoryRegistry(config.StreamMaxConnectionsPerUser, slotTTL)
	}

	runHTTPServer(config, streamRegistry)
}

func runHTTPServer(config util.Config, streamRegistry registry.Registry) {
	server, err := api.NewServer(&config, streamRegistry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create HTTP server 😣")
	}

	err = server.Start(config.HTTPServerAddress)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start HTTP server 😣")
	}
}

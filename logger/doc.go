// Package logger builds the zerolog loggers used by credguard binaries.
//
// Library code never constructs its own logger: the Engine takes a
// zerolog.Logger through Builder.WithLogger and defaults to zerolog.Nop().
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.New(&cfg, "credguardd").WithComponent("sweeper")
//	log.Info().Int("removed", n).Msg("sweep finished")
package logger

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/leafd/internal/app"
	"github.com/dokzlo13/leafd/internal/config"
)

func main() {
	// Support both -c and --config for config path
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	pair := flag.Bool("pair", false, "Request a token from a device in pairing mode and store it, then exit")
	discover := flag.Bool("discover", false, "List devices found over mDNS, then exit")
	resetToken := flag.Bool("reset-token", false, "Revoke and delete the stored token, then exit")
	flag.Parse()

	// -discover works without a config file
	if *discover {
		setupLogging("info", false, true)
		runDiscover(configPath)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogging(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Colors)

	ctx := app.SignalContext()

	switch {
	case *pair:
		log.Info().Msg("Hold the on-off button for 5-7 seconds until the lights flash")
		cred, err := app.Pair(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Pairing failed")
		}
		log.Info().Str("name", cred.Name).Str("serial_no", cred.SerialNo).Msg("Paired")
		return
	case *resetToken:
		if err := app.ResetToken(ctx, cfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to reset token")
		}
		return
	}

	log.Info().Str("config", configPath).Msg("Starting leafd")

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	if err := application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	application.Wait()

	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
	if application.Err() != nil {
		os.Exit(1)
	}
}

func runDiscover(configPath string) {
	cfg := &config.Config{}
	if loaded, err := config.Load(configPath); err == nil {
		cfg = loaded
	}
	if cfg.Device.DiscoverTimeout == 0 {
		cfg.Device.DiscoverTimeout = config.Duration(5 * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Device.DiscoverTimeout.Duration()+time.Second)
	defer cancel()

	devices, err := app.DiscoverDevices(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Discovery failed")
	}
	if len(devices) == 0 {
		log.Warn().Msg("No devices found")
		return
	}
	for _, d := range devices {
		fmt.Fprintf(os.Stdout, "%s\t%s\n", d.Address(), d.Name)
	}
}

func setupLogging(level string, useJSON bool, colors bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

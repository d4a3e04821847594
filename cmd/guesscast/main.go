package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arrowtools/guesscast/internal/config"
	"github.com/arrowtools/guesscast/internal/convert"
	"github.com/arrowtools/guesscast/internal/logger"
	"github.com/rs/zerolog/log"
)

// Version is set at build time
var Version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (default: search ., /etc/guesscast, ~/.guesscast)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(Version)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	log.Info().
		Str("version", Version).
		Str("input", cfg.Convert.Input).
		Str("output", cfg.Convert.Output).
		Strs("columns", cfg.Convert.Columns).
		Msg("Starting guesscast")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conv, err := convert.New(cfg, logger.Get("convert"))
	if err != nil {
		log.Error().Err(err).Msg("Invalid conversion configuration")
		os.Exit(1)
	}

	if err := conv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Conversion failed")
		os.Exit(1)
	}
}

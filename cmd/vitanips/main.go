package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/vitanips/vitanips-core/internal/app"
	"github.com/vitanips/vitanips-core/internal/cli"
	"github.com/vitanips/vitanips-core/internal/config"
	"github.com/vitanips/vitanips-core/internal/store"
)

var version = "dev"

func main() {
	cli.Version = version

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "quote":
			os.Exit(cli.HandleQuoteCommand(os.Args[2:], os.Stdout))
		case "token":
			os.Exit(cli.HandleTokenCommand(os.Args[2:], os.Stdout))
		case "seed":
			os.Exit(cli.HandleSeedCommand(os.Args[2:], os.Stdout))
		case "config":
			os.Exit(cli.HandleConfigCommand(os.Args[2:], os.Stdout))
		case "help", "--help", "-h":
			cli.PrintExtendedHelp(os.Stdout)
			return
		case "version", "--version", "-v":
			fmt.Printf("VitaNips core version %s\n", version)
			return
		}
	}

	runServe(os.Args[1:])
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dataDir := fs.String("data", "", "Path to data directory")
	fs.Parse(args)

	if _, err := config.LoadEnvFiles(*dataDir); err != nil {
		log.Printf("Failed to load .env file: %v", err)
	}

	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting VitaNips core",
		zap.String("version", version),
		zap.String("data_dir", cfg.Storage.DataDir),
	)

	st, err := store.New(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer st.Close()

	application, err := app.New(cfg, st, logger, version)
	if err != nil {
		logger.Fatal("Failed to initialize app", zap.Error(err))
	}
	application.RunServer()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Log.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Log.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Log.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	return zc.Build()
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"casevault/internal/app"
	"casevault/internal/config"
)

func main() {
	configPath := pflag.String("config", "", "YAML configuration file (default: $CASEVAULT_CONFIG, ./casevault.yaml, ./configs or the data root)")
	showVersion := pflag.Bool("version", false, "print the version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(app.AppName, app.Version)
		return
	}

	var cfg *config.Config
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			slog.Error("Failed to load configuration", slog.String("path", *configPath), slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(context.Background()); err != nil {
		slog.Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

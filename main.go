package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/stripdeck/stripdeck/cmd"
	"github.com/stripdeck/stripdeck/internal/conf"
	"github.com/stripdeck/stripdeck/internal/logging"
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if settings.Debug {
		level = slog.LevelDebug
	}
	logging.Init(level)

	if settings.Main.Log.Enabled {
		logCfg := settings.Main.Log
		w, err := logging.RotatingWriter(logCfg.Path, logCfg.MaxSize, logCfg.MaxBackups, logCfg.MaxAge)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
		} else {
			defer w.Close()
			logging.SetOutput(io.MultiWriter(os.Stdout, w), os.Stderr, level)
		}
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

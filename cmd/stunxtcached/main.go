package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/fx"

	"github.com/MrX1068/stunxtV2-sub001/internal/config"
	"github.com/MrX1068/stunxtV2-sub001/internal/daemon"
)

func main() {
	configFlag := flag.String("config", "", "path to config file (TOML)")
	dataDirFlag := flag.String("data-dir", "", "data directory (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configFlag != "" {
		loaded, err := config.Load(*configFlag)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if err == nil {
			cfg = loaded
		}
	}
	if *dataDirFlag != "" {
		cfg.DataDir = *dataDirFlag
	}

	app := fx.New(
		daemon.Module(daemon.Params{Config: cfg}),
	)

	app.Run()
}

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/loqalabs/loqa-sign/internal/config"
)

var version = "0.1.0-dev"

func main() {
	var configPath string
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	validateCmd.StringVar(&configPath, "file", "loqa-sign.yaml", "Path to configuration file")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'validate' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("config valid (recognition=%s window=%d cooldown=%dms)\n",
			cfg.Recognition.Mode, cfg.Pipeline.WindowSize, cfg.Pipeline.CooldownMS)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

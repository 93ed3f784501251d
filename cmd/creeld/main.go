// Command creeld runs the creel recording daemon in the foreground. It
// is the systemd-friendly entry point; `creel start` launches the same
// runtime through the CLI binary instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"creel/internal/config"
	"creel/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	logLevel := flag.String("log-level", "", "override configured log level")
	flag.Parse()

	cfg, _, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{LogLevel: *logLevel}); err != nil {
		fmt.Fprintf(os.Stderr, "creeld: %v\n", err)
		os.Exit(1)
	}
}

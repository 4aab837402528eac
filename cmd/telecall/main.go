package main

import (
	"fmt"
	"os"

	"github.com/tbcare/telecall/internal/adapter/driving/cli"
	"github.com/tbcare/telecall/internal/logging"
)

func main() {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	l := logging.New(os.Stderr, level)

	if err := cli.NewRootCommand(l).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

package main

import (
	"os"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/conneroisu/glimpse/cmd"
)

func main() {
	// The render pool defaults to GOMAXPROCS, so honor container CPU quotas.
	_, _ = maxprocs.Set(maxprocs.Logger(func(string, ...interface{}) {}))

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

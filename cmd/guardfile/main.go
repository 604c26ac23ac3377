package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	logger "github.com/Easy-Infra-Ltd/easy-logger"
	"github.com/joho/godotenv"

	"github.com/guardfile/guardfile"
)

func main() {
	// Local .env overrides only; a missing file is the normal case.
	_ = godotenv.Load()

	log := logger.CreateLoggerFromEnv(nil, "blue").With("process", "guardfile")

	root := newRootCmd(log)
	err := root.ExecuteContext(context.Background())
	if err == nil {
		return
	}

	// Decision-driven exits (deny, warn under fail-on) travel as exitError
	// and are not failures; everything else is operational, except policy
	// defects which reserve their own code.
	var exit *exitError
	if errors.As(err, &exit) {
		os.Exit(exit.code)
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	if guardfile.IsInvalidPolicy(err) {
		os.Exit(guardfile.ExitPolicy)
	}
	os.Exit(guardfile.ExitOperational)
}

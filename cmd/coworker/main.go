package main

import (
	"os"

	"github.com/coworkerhq/coworker/internal/cmd/coworker"
)

func main() {
	if err := coworker.Execute(); err != nil {
		os.Exit(coworker.ExitCode(err))
	}
}

package main

import (
	"os"

	"github.com/coworkerhq/coworker/internal/cmd/runtime"
)

func main() {
	if err := runtime.Execute(); err != nil {
		os.Exit(runtime.ExitCode(err))
	}
}

package main

import (
	"os"

	"github.com/e7canasta/delaycam/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

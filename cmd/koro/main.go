package main

import (
	"os"

	"github.com/koromind/koro/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

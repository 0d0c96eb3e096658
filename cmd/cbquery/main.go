package main

import (
	"os"

	"github.com/PhucNguyen204/cbquery/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

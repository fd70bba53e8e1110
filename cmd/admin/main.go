package main

import (
	"os"

	"github.com/pengine/pengine/internal/admin"
)

func main() {
	if err := admin.NewApp(os.Stdin, os.Stdout).NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

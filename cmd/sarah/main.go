package main

import (
	"os"

	"github.com/johnlen7/teacher-sarah/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

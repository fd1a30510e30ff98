package main

import (
	"os"

	"github.com/hezky/lab-heartbeat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

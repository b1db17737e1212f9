package main

import (
	"log"

	"github.com/mistakeknot/switchboard/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		log.Fatalf("switchboard: %v", err)
	}
}

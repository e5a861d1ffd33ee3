// Package main provides the ultiserve command.
// It serves a local directory over HTTP with listings and highlighted source.
package main

import (
	"log"
	"os"

	"github.com/clean-dependency-project/ultiserve/internal/cli"
)

func main() {
	app := cli.NewApp()

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

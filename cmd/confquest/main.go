// Package main is the single-binary entrypoint for confquest: the API server,
// the organizer tools and the participant clicker share one binary.
package main

import "github.com/confquest/confquest/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}

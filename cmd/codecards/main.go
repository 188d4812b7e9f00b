// Package main provides the codecards CLI.
package main

import "github.com/mesh-intelligence/codecards/internal/cli"

func main() {
	cli.Execute()
}

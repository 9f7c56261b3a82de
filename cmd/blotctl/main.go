package main

import "github.com/blotkit/goblot/internal/cli"

func main() {
	cli.Execute()
}

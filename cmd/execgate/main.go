package main

import "github.com/mcptrust/execgate/internal/cli"

func main() {
	cli.Execute()
}

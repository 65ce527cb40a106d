package main

import "github.com/blocksmiths/launchcore/internal/cli"

func main() {
	cli.Execute()
}

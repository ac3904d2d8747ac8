package main

import "github.com/openfloor/indexer/internal/cli"

func main() {
	cli.Execute()
}

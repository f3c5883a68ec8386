package main

import (
	"os"

	"ampd/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}

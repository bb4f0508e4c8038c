package main

import (
	"os"

	"github.com/espkit/esphub/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}

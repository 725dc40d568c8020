package main

import (
	"os"

	"marketlake/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}

package main

import (
	"os"

	"github.com/uma-arai/sbcntr-ludoteca/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}

package main

import (
	"os"

	"github.com/taskmesh/taskmesh/internal/cmd"
)

const turboVersion = "1.8.0"

func main() {
	os.Exit(cmd.RunWithArgs(os.Args[1:], turboVersion))
}

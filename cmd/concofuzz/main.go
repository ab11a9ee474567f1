package main

import (
	"fmt"
	"os"

	"github.com/zjy-dev/concolic-fuzz/cmd/concofuzz/app"
)

func main() {
	if err := app.NewConcofuzzCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

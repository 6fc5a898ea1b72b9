package main

import (
	"context"
	"fmt"
	"os"
)

var version = "dev" // set via ldflags at build time

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

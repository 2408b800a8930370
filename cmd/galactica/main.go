package main

import (
	"fmt"
	"os"

	"github.com/small-frappuccino/galactica/pkg/app"
)

// main is the entry point of the Discord bot.
func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
		os.Exit(1)
	}
}

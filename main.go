package main

import (
	"os"

	"github.com/bkalan/shipit/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"log"

	"github.com/antonk9218/fl-bidder/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

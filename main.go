package main

import (
	"log"
)

// Build details injected through ldflags at compile time.
var (
	GitCommit string
	GitTag    string
	BuildTime string
)

func main() {
	app, err := NewApp()
	if err != nil {
		log.Fatal("library api failed to initialize: ", err)
	}
	if err = app.Run(); err != nil {
		log.Fatal("library api exited abnormally. check logs for more details: ", err)
	}
}

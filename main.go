package main

import (
	"os"

	"lesa/cmd"

	log "github.com/sirupsen/logrus"
)

func main() {
	if err := cmd.RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/aefi-io/aefi/cmd/aefi-stage-agent/app"
)

func main() {
	app.NewApp().Run()
}

package main

import (
	"flag"

	"go.uber.org/fx"

	"wagate/internal/daemon"
)

func main() {
	configFlag := flag.String("config", "", "path to TOML config file (optional, env vars override)")
	flag.Parse()

	app := fx.New(
		daemon.Module(daemon.Params{ConfigPath: *configFlag}),
	)

	app.Run()
}

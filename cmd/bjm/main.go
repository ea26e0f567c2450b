package main

import (
	"flag"

	"github.com/nifad2005/bjm/internal/app"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", "", "config file path (default ~/.bjm/config.toml)")
	flag.Parse()

	fx.New(
		app.Module(app.Params{ConfigPath: *configFlag}),
		fx.NopLogger,
	).Run()
}

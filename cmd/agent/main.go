package main

import (
	"context"

	"github.com/moltnet/diaryd/internal/agent/cli"
	"github.com/moltnet/diaryd/internal/agent/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()

	app := cli.NewApp(cfg)
	app.Run(ctx)

}

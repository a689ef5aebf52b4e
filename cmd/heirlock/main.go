package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/vburojevic/heirlock/internal/cli"
	"github.com/vburojevic/heirlock/internal/config"
)

const quickStart = `heirlock - hold a lock while an external session is open

Quick start:
  heirlock open https://example.com/pay    Open a session and watch it
  heirlock status                          Show the persisted record
  heirlock close                           Release it from another terminal

For help:
  heirlock --help
`

func main() {
	if len(os.Args) == 1 {
		fmt.Print(quickStart)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	var c cli.CLI
	ctx := kong.Parse(&c,
		kong.Name("heirlock"),
		kong.Description("Coordinate an external session with a lock that is held while it stays open"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true, Summary: true}),
		kong.Vars{
			"config_format":             cfg.Format,
			"config_listen":             cfg.ListenAddr,
			"config_heartbeat_interval": cfg.Timeouts.HeartbeatInterval.String(),
		},
	)

	globals := cli.NewGlobalsWithConfig(&c, cfg)
	if err := ctx.Run(globals); err != nil {
		os.Exit(1)
	}
}

/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "lesa",
		Usage: "A feed reader backend with a hierarchical feed tree",
		Description: `Lesa keeps your RSS and Atom subscriptions in a tree of
		accounts, categories and feeds, fetches them on a schedule and stores
		the messages in an SQLite database. The tree, counts and message
		contents are served over an HTTP API with live count updates.

		Flags can generally be set via environment variables, e.g.:

		--config => LESA_CONFIG=lesa.toml
		--database => LESA_DATABASE=lesa.db
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level: trace, debug, info, warning, error, fatal",
				EnvVars: []string{"LESA_LOG_LEVEL"},
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format: text or json",
				EnvVars: []string{"LESA_LOG_FORMAT"},
				Value:   "text",
			},
		},
		Before: func(ctx *cli.Context) error {
			level, err := log.ParseLevel(ctx.String("log-level"))
			if err != nil {
				return err
			}
			log.SetLevel(level)
			if ctx.String("log-format") == "json" {
				log.SetFormatter(&log.JSONFormatter{})
			}
			return nil
		},
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			rollbackCmd(),
			fetchCmd(),
			addCmd(),
			gcCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

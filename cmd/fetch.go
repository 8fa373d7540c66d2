/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"time"

	"lesa/config"
	"lesa/db"
	"lesa/feedmodel"
	"lesa/fetcher"
	"lesa/services"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// fetchCmd refreshes every feed once and exits
func fetchCmd() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Refresh all feeds once",
		Description: `Fetches every subscribed feed once, stores new messages in the
database and exits. Useful for cron-driven setups where the server is not
kept running.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "lesa.toml",
				Usage:   "Path to configuration file",
				EnvVars: []string{"LESA_CONFIG"},
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return err
			}

			if err := db.Migrate(cfg.Database); err != nil {
				return err
			}

			reader, err := db.NewReader(cfg.Database)
			if err != nil {
				return err
			}
			defer reader.Close()
			writer, err := db.NewWriter(cfg.Database)
			if err != nil {
				return err
			}
			defer writer.Close()

			if err := services.Seed(cfg, reader, writer); err != nil {
				return err
			}

			model := feedmodel.New()
			standard := services.NewStandard(reader, writer)
			if err := model.LoadActivatedServiceAccounts(ctx.Context, []feedmodel.EntryPoint{standard}); err != nil {
				return err
			}

			fetch := fetcher.New(fetcher.Config{
				Model:   model,
				Reader:  reader,
				Writer:  writer,
				Workers: cfg.Fetch.Workers,
				Timeout: time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
			})

			if err := fetch.RefreshAll(ctx.Context); err != nil {
				return err
			}

			log.WithField("unread", model.CountOfUnreadMessages()).Info("Fetch finished")
			return nil
		},
	}
}

/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"lesa/db"

	"github.com/urfave/cli/v2"
)

func gcCmd() *cli.Command {
	return &cli.Command{
		Name:  "gc",
		Usage: "Garbage collect the SQLite database",
		Description: `Purges recycled messages older than 30 days from the SQLite database.

Can be run as a cron job to keep the database size down.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database",
				Usage:   "SQLite database file",
				EnvVars: []string{"LESA_DATABASE"},
				Value:   "lesa.db",
			},
		},
		Action: func(ctx *cli.Context) error {
			return db.Tidy(ctx.String("database"))
		},
	}
}

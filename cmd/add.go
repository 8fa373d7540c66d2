/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"

	"lesa/config"
	"lesa/db"
	"lesa/models"

	"github.com/cqroot/prompt"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
)

// addCmd interactively subscribes to a new feed
func addCmd() *cli.Command {
	return &cli.Command{
		Name:  "add",
		Usage: "Subscribe to a feed",
		Description: `Adds a feed subscription to an account.

Prompts for the feed URL, title and an optional category. The category is
created under the account root if it does not exist yet.`,
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

			accounts, err := reader.Accounts()
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				return errors.New("no accounts configured, run serve with a seeded config first")
			}

			account := accounts[0]
			if len(accounts) > 1 {
				codes := lo.Map(accounts, func(a models.Account, _ int) string { return a.Code })
				code, err := prompt.New().Ask("Account:").Choose(codes)
				if err != nil {
					return err
				}
				account, _ = lo.Find(accounts, func(a models.Account) bool { return a.Code == code })
			}

			url, err := prompt.New().Ask("Feed URL:").Input("https://example.com/rss.xml")
			if err != nil {
				return err
			}
			title, err := prompt.New().Ask("Title:").Input("")
			if err != nil {
				return err
			}
			categoryTitle, err := prompt.New().Ask("Category (empty for none):").Input("")
			if err != nil {
				return err
			}

			var categoryID *int64
			if categoryTitle != "" {
				categories, err := reader.CategoriesForAccount(account.ID)
				if err != nil {
					return err
				}
				if existing, ok := lo.Find(categories, func(c models.Category) bool {
					return c.Title == categoryTitle
				}); ok {
					categoryID = &existing.ID
				} else {
					id, err := writer.InsertCategory(models.Category{
						AccountID: account.ID,
						Title:     categoryTitle,
						Ordering:  len(categories),
					})
					if err != nil {
						return err
					}
					categoryID = &id
				}
			}

			feedID, err := writer.InsertFeed(models.Feed{
				AccountID:  account.ID,
				CategoryID: categoryID,
				Title:      title,
				URL:        url,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Subscribed to %s (feed %d)\n", url, feedID)
			return nil
		},
	}
}

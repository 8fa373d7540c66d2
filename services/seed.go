package services

import (
	"lesa/config"
	"lesa/db"
	"lesa/feedtree"
	"lesa/models"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// Seed inserts the accounts, categories and feeds declared in the config
// file, skipping account codes already present in storage. It lets a fresh
// install come up with a populated tree from nothing but a config file.
func Seed(cfg *config.TomlConfig, reader *db.Reader, writer *db.Writer) error {
	existing, err := reader.Accounts()
	if err != nil {
		return err
	}

	for _, account := range cfg.Accounts {
		if lo.SomeBy(existing, func(a models.Account) bool { return a.Code == account.Code }) {
			continue
		}

		accountID, err := writer.InsertAccount(account.Code, account.Title)
		if err != nil {
			return err
		}

		// Categories are declared implicitly by the feeds referencing them.
		categories := map[string]int64{}
		for ordering, feed := range account.Feeds {
			var categoryID *int64
			if feed.Category != "" {
				id, ok := categories[feed.Category]
				if !ok {
					id, err = writer.InsertCategory(models.Category{
						AccountID: accountID,
						Title:     feed.Category,
						Ordering:  len(categories),
					})
					if err != nil {
						return err
					}
					categories[feed.Category] = id
				}
				categoryID = &id
			}

			mode := feedtree.UpdateDefault
			interval := 0
			switch {
			case feed.Interval > 0:
				mode = feedtree.UpdateSpecific
				interval = feed.Interval
			case feed.Interval < 0:
				mode = feedtree.UpdateDisabled
			}

			if _, err := writer.InsertFeed(models.Feed{
				AccountID:      accountID,
				CategoryID:     categoryID,
				Title:          feed.Title,
				URL:            feed.URL,
				UpdateMode:     int(mode),
				UpdateInterval: interval,
				Ordering:       ordering,
			}); err != nil {
				return err
			}
		}

		log.WithFields(log.Fields{
			"account": account.Code,
			"feeds":   len(account.Feeds),
		}).Info("Seeded account from config")
	}

	return nil
}

package db

import (
	"database/sql"
	"time"

	sb "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

// binRetention is how long recycled messages survive before GC purges them.
const binRetention = 30 * 24 * time.Hour

// Tidy purges recycled messages older than the retention window.
func Tidy(database string) error {
	db, err := openWrite(database)
	if err != nil {
		return err
	}
	defer db.Close()

	return tidy(db)
}

func tidy(db *sql.DB) error {
	cutoff := time.Now().Add(-binRetention)
	deleteMessages := sb.NewDeleteBuilder()
	query, args := deleteMessages.DeleteFrom("messages").
		Where(
			deleteMessages.Equal("deleted", 1),
			deleteMessages.LessEqualThan("created", cutoff),
		).
		Build()

	res, err := db.Exec(query, args...)
	if err != nil {
		return err
	}

	purged, _ := res.RowsAffected()
	log.WithField("purged", purged).Info("Tidying database")
	return nil
}

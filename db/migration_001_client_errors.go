package db

import (
	"database/sql"
)

func init() {
	RegisterMigration(Migration{
		Version:     1,
		Description: "Create client_errors table",
		Up:          migration001_clientErrors,
	})
}

func migration001_clientErrors(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		CREATE TABLE client_errors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id TEXT,
			message TEXT NOT NULL,
			stack TEXT,
			url TEXT,
			user_agent TEXT,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`CREATE INDEX idx_client_errors_created_at ON client_errors(created_at DESC)`)
	if err != nil {
		return err
	}

	return tx.Commit()
}

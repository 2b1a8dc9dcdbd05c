package db

import (
	"database/sql"
)

// clientErrorKeep bounds the client_errors table size.
const clientErrorKeep = 500

// ClientError is an error report submitted by a browser or mobile client.
type ClientError struct {
	ID        int64  `json:"id"`
	ClientID  string `json:"clientId,omitempty"`
	Message   string `json:"message"`
	Stack     string `json:"stack,omitempty"`
	URL       string `json:"url,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// InsertClientError stores an error report and prunes old rows.
func InsertClientError(e *ClientError) error {
	if e.CreatedAt == 0 {
		e.CreatedAt = NowMs()
	}

	res, err := GetDB().Exec(`
		INSERT INTO client_errors (client_id, message, stack, url, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, nullable(e.ClientID), e.Message, nullable(e.Stack), nullable(e.URL), nullable(e.UserAgent), e.CreatedAt)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}

	_, err = GetDB().Exec(`
		DELETE FROM client_errors
		WHERE id NOT IN (SELECT id FROM client_errors ORDER BY id DESC LIMIT ?)
	`, clientErrorKeep)
	return err
}

// RecentClientErrors returns the newest error reports, newest first.
func RecentClientErrors(limit int) ([]ClientError, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := GetDB().Query(`
		SELECT id, client_id, message, stack, url, user_agent, created_at
		FROM client_errors
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var errors []ClientError
	for rows.Next() {
		var e ClientError
		var clientID, stack, url, userAgent sql.NullString
		if err := rows.Scan(&e.ID, &clientID, &e.Message, &stack, &url, &userAgent, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ClientID = clientID.String
		e.Stack = stack.String
		e.URL = url.String
		e.UserAgent = userAgent.String
		errors = append(errors, e)
	}
	return errors, rows.Err()
}

// nullable maps the empty string to NULL for optional text columns.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

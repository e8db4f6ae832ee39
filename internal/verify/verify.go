// Package verify performs post-operation sanity checks: an integrity
// check plus a read-back of the key tenant records, so every restore and
// migration ends with proof the right data is in place.
package verify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/config"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/database"
	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/logger"
)

// User is one user row in the preview.
type User struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Household is one tenant with its users.
type Household struct {
	Name  string `json:"name"`
	Users []User `json:"users"`
}

// Preview is the operator-facing confirmation that the right backup was
// restored.
type Preview struct {
	Households []Household `json:"households"`
}

// SQLiteFile verifies a SQLite database file: integrity check plus
// read-back. Used against uploads before a restore and against the active
// file after one.
func SQLiteFile(ctx context.Context, path string, log logger.Logger) (*Preview, error) {
	db := database.NewSQLiteReadOnly(path, log)
	if err := db.Connect(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	if err := db.IntegrityCheck(ctx); err != nil {
		return nil, err
	}

	return readBack(ctx, db.DB(), "?")
}

// Postgres verifies the active PostgreSQL database. The server may still be
// settling after a restore dropped and recreated every object, so the
// connection is retried with exponential backoff before giving up.
func Postgres(ctx context.Context, cfg *config.Config, log logger.Logger) (*Preview, error) {
	var db *database.PostgreSQL

	connect := func() error {
		candidate := database.NewPostgreSQL(cfg, log)
		if err := candidate.Connect(ctx); err != nil {
			log.Debug("Verifier connection attempt failed", "error", err)
			return err
		}
		db = candidate
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(500*time.Millisecond)), 5), ctx)
	if err := backoff.Retry(connect, policy); err != nil {
		return nil, fmt.Errorf("could not reconnect for verification: %w", err)
	}
	defer func() { _ = db.Close() }()

	return readBack(ctx, db.DB(), "$1")
}

// readBack loads households and their users. The placeholder differs per
// engine ("?" for SQLite, "$1" for PostgreSQL); everything else is shared.
func readBack(ctx context.Context, db *sql.DB, placeholder string) (*Preview, error) {
	hhRows, err := db.QueryContext(ctx, `SELECT id, name FROM households ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("reading households: %w", err)
	}
	defer func() { _ = hhRows.Close() }()

	type hh struct {
		id   int64
		name string
	}
	var households []hh
	for hhRows.Next() {
		var h hh
		if err := hhRows.Scan(&h.id, &h.name); err != nil {
			return nil, fmt.Errorf("scanning household: %w", err)
		}
		households = append(households, h)
	}
	if err := hhRows.Err(); err != nil {
		return nil, err
	}

	preview := &Preview{}
	for _, h := range households {
		userRows, err := db.QueryContext(ctx,
			`SELECT username, role FROM users WHERE household_id = `+placeholder+` ORDER BY id`, h.id)
		if err != nil {
			return nil, fmt.Errorf("reading users of %s: %w", h.name, err)
		}

		household := Household{Name: h.name}
		for userRows.Next() {
			var u User
			if err := userRows.Scan(&u.Username, &u.Role); err != nil {
				_ = userRows.Close()
				return nil, fmt.Errorf("scanning user: %w", err)
			}
			household.Users = append(household.Users, u)
		}
		err = userRows.Err()
		_ = userRows.Close()
		if err != nil {
			return nil, err
		}

		preview.Households = append(preview.Households, household)
	}

	return preview, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"

	"vrac/internal/models"
)

// GetAccount returns the admin account by username, or nil when absent.
func (s *Store) GetAccount(ctx context.Context, username string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, phc FROM account WHERE username = ? LIMIT 1`, username)

	var account models.Account
	err := row.Scan(&account.ID, &account.Username, &account.PHC)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot look up account %q: %w", username, err)
	}
	return &account, nil
}

// CreateAccount inserts one admin account with a pre-hashed credential.
func (s *Store) CreateAccount(ctx context.Context, username, phc string) (*models.Account, error) {
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if phc == "" {
		return nil, fmt.Errorf("password hash is required")
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO account (username, phc) VALUES (?, ?)`, username, phc)
	if err != nil {
		return nil, fmt.Errorf("cannot create account %q: %w", username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("cannot create account %q: %w", username, err)
	}

	return &models.Account{ID: id, Username: username, PHC: phc}, nil
}

// ListAccounts returns all admin accounts sorted by username.
func (s *Store) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, phc FROM account ORDER BY username ASC`)
	if err != nil {
		return nil, fmt.Errorf("cannot list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		var account models.Account
		if err := rows.Scan(&account.ID, &account.Username, &account.PHC); err != nil {
			return nil, fmt.Errorf("cannot list accounts: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

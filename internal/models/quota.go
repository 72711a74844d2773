// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"

	"github.com/qbitmaster/qbitmaster/internal/dbinterface"
)

// QuotaStore tracks per-user torrent limits. A limit of 0 means unlimited.
type QuotaStore struct {
	db dbinterface.TxQuerier
}

func NewQuotaStore(db dbinterface.TxQuerier) *QuotaStore {
	return &QuotaStore{db: db}
}

func (s *QuotaStore) Get(ctx context.Context, userID string) (int, error) {
	var max int
	err := s.db.QueryRowContext(ctx, "SELECT max_torrents FROM quotas WHERE user_id = ?", userID).Scan(&max)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return max, nil
}

func (s *QuotaStore) Set(ctx context.Context, userID string, maxTorrents int) error {
	if maxTorrents < 0 {
		return errors.New("max torrents cannot be negative")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quotas (user_id, max_torrents)
		VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET max_torrents = excluded.max_torrents
	`, userID, maxTorrents)
	return err
}

func (s *QuotaStore) Delete(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM quotas WHERE user_id = ?", userID)
	return err
}

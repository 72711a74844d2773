// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qbitmaster/qbitmaster/internal/dbinterface"
)

var ErrTorrentNotFound = errors.New("torrent not found")

// Torrent is a persisted torrent record owned by a user. Hash is empty until
// the daemon-side identity has been resolved.
type Torrent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Hash      string    `json:"hash,omitempty"`
	Magnet    string    `json:"-"`
	Progress  float64   `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
}

type TorrentStore struct {
	db dbinterface.TxQuerier
}

func NewTorrentStore(db dbinterface.TxQuerier) *TorrentStore {
	return &TorrentStore{db: db}
}

func (s *TorrentStore) Create(ctx context.Context, userID, name, hash, magnet string) (*Torrent, error) {
	torrent := &Torrent{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		Hash:      strings.ToLower(hash),
		Magnet:    magnet,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO torrents (id, user_id, name, hash, magnet, progress, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`, torrent.ID, torrent.UserID, torrent.Name, nullableString(torrent.Hash), nullableString(torrent.Magnet), torrent.CreatedAt)
	if err != nil {
		return nil, err
	}

	return torrent, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *TorrentStore) GetByID(ctx context.Context, id string) (*Torrent, error) {
	torrent := &Torrent{}
	var hash, magnet sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, hash, magnet, progress, created_at
		FROM torrents
		WHERE id = ?
	`, id).Scan(&torrent.ID, &torrent.UserID, &torrent.Name, &hash, &magnet, &torrent.Progress, &torrent.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTorrentNotFound
		}
		return nil, err
	}

	torrent.Hash = hash.String
	torrent.Magnet = magnet.String
	return torrent, nil
}

func (s *TorrentStore) ListByUser(ctx context.Context, userID string) ([]*Torrent, error) {
	return s.list(ctx, "WHERE user_id = ?", userID)
}

func (s *TorrentStore) ListAll(ctx context.Context) ([]*Torrent, error) {
	return s.list(ctx, "")
}

func (s *TorrentStore) list(ctx context.Context, where string, args ...any) ([]*Torrent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, hash, magnet, progress, created_at
		FROM torrents
		`+where+`
		ORDER BY created_at DESC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var torrents []*Torrent
	for rows.Next() {
		torrent := &Torrent{}
		var hash, magnet sql.NullString
		if err := rows.Scan(&torrent.ID, &torrent.UserID, &torrent.Name, &hash, &magnet, &torrent.Progress, &torrent.CreatedAt); err != nil {
			return nil, err
		}
		torrent.Hash = hash.String
		torrent.Magnet = magnet.String
		torrents = append(torrents, torrent)
	}

	return torrents, rows.Err()
}

func (s *TorrentStore) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM torrents WHERE user_id = ?", userID).Scan(&count)
	return count, err
}

// UpdateHash stores the resolved daemon hash, normalized to lowercase.
func (s *TorrentStore) UpdateHash(ctx context.Context, id, hash string) error {
	result, err := s.db.ExecContext(ctx, "UPDATE torrents SET hash = ? WHERE id = ?", strings.ToLower(hash), id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func (s *TorrentStore) UpdateProgress(ctx context.Context, id string, progress float64) error {
	result, err := s.db.ExecContext(ctx, "UPDATE torrents SET progress = ? WHERE id = ?", progress, id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// Delete removes the torrent record and its notifications in one transaction.
func (s *TorrentStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM notifications WHERE torrent_id = ?", id); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM torrents WHERE id = ?", id)
	if err != nil {
		return err
	}
	if err := requireAffected(result); err != nil {
		return err
	}

	return tx.Commit()
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTorrentNotFound
	}
	return nil
}

// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/qbitmaster/qbitmaster/internal/dbinterface"
)

var ErrNotificationNotFound = errors.New("notification not found")

const NotificationKindCompletion = "completion"

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TorrentID string    `json:"torrent_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type NotificationStore struct {
	db dbinterface.TxQuerier
}

func NewNotificationStore(db dbinterface.TxQuerier) *NotificationStore {
	return &NotificationStore{db: db}
}

// CreateCompletion records a completion notification for the torrent. It is
// idempotent: if one already exists for this user and torrent, nothing is
// inserted and created is false.
func (s *NotificationStore) CreateCompletion(ctx context.Context, userID, torrentID, message string) (created bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = ? AND torrent_id = ? AND kind = ?
	`, userID, torrentID, NotificationKindCompletion).Scan(&exists)
	if err != nil {
		return false, err
	}
	if exists > 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, torrent_id, kind, message, read, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`, uuid.NewString(), userID, torrentID, NotificationKindCompletion, message, time.Now().UTC())
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}

	return true, nil
}

func (s *NotificationStore) ListByUser(ctx context.Context, userID string) ([]*Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, torrent_id, kind, message, read, created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		n := &Notification{}
		if err := rows.Scan(&n.ID, &n.UserID, &n.TorrentID, &n.Kind, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

func (s *NotificationStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read = 0", userID).Scan(&count)
	return count, err
}

// MarkRead marks a single notification as read, scoped to the owning user.
func (s *NotificationStore) MarkRead(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx, "UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return err
	}
	return notificationAffected(result)
}

func (s *NotificationStore) MarkAllRead(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE notifications SET read = 1 WHERE user_id = ?", userID)
	return err
}

func (s *NotificationStore) Delete(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM notifications WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return err
	}
	return notificationAffected(result)
}

func notificationAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

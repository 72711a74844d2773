// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package torrents merges persisted torrent records with the daemon's live
// state into the views served by the HTTP layer, and owns the submission,
// ownership and notification side of the torrent lifecycle.
package torrents

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/qbitmaster/qbitmaster/internal/models"
	"github.com/qbitmaster/qbitmaster/internal/qbittorrent"
)

var (
	ErrNotOwner      = errors.New("torrent belongs to another user")
	ErrQuotaExceeded = errors.New("torrent quota exceeded")
	ErrUnresolved    = errors.New("torrent has no daemon identity yet")
)

// stateUnknown is the placeholder state shown when the daemon has no entry
// for a record (or is unreachable).
const stateUnknown = "unknown"

// activeStates are the daemon states counted as active in user stats.
var activeStates = map[string]struct{}{
	"downloading": {},
	"uploading":   {},
	"stalledDL":   {},
	"stalledUP":   {},
}

// Daemon is the slice of the gateway surface this service consumes.
type Daemon interface {
	ListTorrents(ctx context.Context) ([]qbittorrent.TorrentEntry, error)
	TransferInfo(ctx context.Context) (*qbittorrent.TransferInfo, error)
	AddMagnet(ctx context.Context, magnet string) error
	AddFile(ctx context.Context, filename string, file []byte) error
	Delete(ctx context.Context, hash string, deleteFiles bool) error
	Pause(ctx context.Context, hash string) error
	Resume(ctx context.Context, hash string) error
}

// TorrentView is one torrent as presented to the HTTP layer: the persisted
// record enriched with live daemon state when available.
type TorrentView struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	Name       string    `json:"name"`
	Hash       string    `json:"hash,omitempty"`
	State      string    `json:"state"`
	Progress   float64   `json:"progress"`
	Dlspeed    int64     `json:"dlspeed"`
	Upspeed    int64     `json:"upspeed"`
	Size       int64     `json:"size"`
	Downloaded int64     `json:"downloaded"`
	Eta        int64     `json:"eta"`
	CreatedAt  time.Time `json:"created_at"`
}

// Stats summarizes a user's torrents plus the daemon's transfer rates.
type Stats struct {
	TotalTorrents     int   `json:"total_torrents"`
	ActiveTorrents    int   `json:"active_torrents"`
	CompletedTorrents int   `json:"completed_torrents"`
	DownloadSpeed     int64 `json:"download_speed"`
	UploadSpeed       int64 `json:"upload_speed"`
}

type Service struct {
	store         *models.TorrentStore
	notifications *models.NotificationStore
	quotas        *models.QuotaStore
	daemon        Daemon
	resolver      *qbittorrent.Resolver
}

func NewService(store *models.TorrentStore, notifications *models.NotificationStore, quotas *models.QuotaStore, daemon Daemon, resolver *qbittorrent.Resolver) *Service {
	return &Service{
		store:         store,
		notifications: notifications,
		quotas:        quotas,
		daemon:        daemon,
		resolver:      resolver,
	}
}

// List returns the torrent views for a user (all records for admins). A
// daemon failure degrades every row uniformly to persisted-progress-only and
// is logged, never raised — listing stays available when the daemon is down.
func (s *Service) List(ctx context.Context, user *models.User) ([]TorrentView, error) {
	records, err := s.records(ctx, user)
	if err != nil {
		return nil, err
	}

	entries, err := s.daemon.ListTorrents(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Daemon listing failed, serving persisted state only")
		views := make([]TorrentView, 0, len(records))
		for _, record := range records {
			views = append(views, fallbackView(record))
		}
		return views, nil
	}

	snapshot := qbittorrent.NewEntrySnapshot(entries)

	views := make([]TorrentView, 0, len(records))
	for _, record := range records {
		entry := s.resolver.Resolve(ctx, record, snapshot)
		if entry == nil {
			views = append(views, fallbackView(record))
			continue
		}
		views = append(views, s.liveView(ctx, record, entry))
	}

	return views, nil
}

func (s *Service) records(ctx context.Context, user *models.User) ([]*models.Torrent, error) {
	if user.IsAdmin {
		return s.store.ListAll(ctx)
	}
	return s.store.ListByUser(ctx, user.ID)
}

func fallbackView(record *models.Torrent) TorrentView {
	return TorrentView{
		ID:        record.ID,
		OwnerID:   record.UserID,
		Name:      record.Name,
		Hash:      record.Hash,
		State:     stateUnknown,
		Progress:  record.Progress,
		CreatedAt: record.CreatedAt,
	}
}

func (s *Service) liveView(ctx context.Context, record *models.Torrent, entry *qbittorrent.TorrentEntry) TorrentView {
	progress := entry.Progress * 100

	if err := s.store.UpdateProgress(ctx, record.ID, progress); err != nil {
		log.Error().Err(err).Str("torrentID", record.ID).Msg("Failed to persist torrent progress")
	}

	if progress >= 100 {
		s.notifyCompletion(ctx, record)
	}

	return TorrentView{
		ID:         record.ID,
		OwnerID:    record.UserID,
		Name:       record.Name,
		Hash:       record.Hash,
		State:      entry.State,
		Progress:   progress,
		Dlspeed:    entry.Dlspeed,
		Upspeed:    entry.Upspeed,
		Size:       entry.Size,
		Downloaded: entry.Downloaded,
		Eta:        entry.Eta,
		CreatedAt:  record.CreatedAt,
	}
}

func (s *Service) notifyCompletion(ctx context.Context, record *models.Torrent) {
	message := fmt.Sprintf("Download of %q is complete", record.Name)
	created, err := s.notifications.CreateCompletion(ctx, record.UserID, record.ID, message)
	if err != nil {
		log.Error().Err(err).Str("torrentID", record.ID).Msg("Failed to create completion notification")
		return
	}
	if created {
		log.Info().Str("torrentID", record.ID).Str("userID", record.UserID).Msg("Torrent completed")
	}
}

// AddMagnet submits a magnet to the daemon and persists the record. The
// daemon hash is taken from the magnet's btih parameter when present,
// otherwise isolated by diffing the live entry set around the submission.
func (s *Service) AddMagnet(ctx context.Context, user *models.User, name, magnet string) (*models.Torrent, error) {
	if strings.TrimSpace(magnet) == "" {
		return nil, errors.New("magnet cannot be empty")
	}

	if err := s.checkQuota(ctx, user); err != nil {
		return nil, err
	}

	if name == "" {
		name = magnetDisplayName(magnet)
	}

	hash := magnetHash(magnet)

	var before map[string]struct{}
	if hash == "" {
		before = s.snapshotHashes(ctx)
	}

	if err := s.daemon.AddMagnet(ctx, magnet); err != nil {
		return nil, err
	}

	if hash == "" {
		hash = s.resolver.ResolveNewHash(ctx, before)
	}

	return s.store.Create(ctx, user.ID, name, hash, magnet)
}

// AddFile submits a .torrent file to the daemon and persists the record,
// isolating the new hash by diffing the live entry set.
func (s *Service) AddFile(ctx context.Context, user *models.User, name, filename string, file []byte) (*models.Torrent, error) {
	if len(file) == 0 {
		return nil, errors.New("torrent file cannot be empty")
	}

	if err := s.checkQuota(ctx, user); err != nil {
		return nil, err
	}

	if name == "" {
		name = strings.TrimSuffix(filename, ".torrent")
	}

	before := s.snapshotHashes(ctx)

	if err := s.daemon.AddFile(ctx, filename, file); err != nil {
		return nil, err
	}

	hash := s.resolver.ResolveNewHash(ctx, before)

	return s.store.Create(ctx, user.ID, name, hash, "")
}

func (s *Service) checkQuota(ctx context.Context, user *models.User) error {
	max, err := s.quotas.Get(ctx, user.ID)
	if err != nil {
		return err
	}
	if max == 0 {
		return nil
	}

	count, err := s.store.CountByUser(ctx, user.ID)
	if err != nil {
		return err
	}
	if count >= max {
		return ErrQuotaExceeded
	}

	return nil
}

// snapshotHashes reads the pre-submission hash set. A daemon failure here is
// tolerated (empty snapshot): the add itself will surface real errors.
func (s *Service) snapshotHashes(ctx context.Context) map[string]struct{} {
	entries, err := s.daemon.ListTorrents(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Pre-submission snapshot failed")
		return map[string]struct{}{}
	}
	return qbittorrent.NewEntrySnapshot(entries).Hashes()
}

// Delete removes the torrent from the daemon (with files) and drops the
// record and its notifications.
func (s *Service) Delete(ctx context.Context, user *models.User, torrentID string, deleteFiles bool) error {
	record, err := s.owned(ctx, user, torrentID)
	if err != nil {
		return err
	}

	if record.Hash != "" {
		if err := s.daemon.Delete(ctx, record.Hash, deleteFiles); err != nil {
			return err
		}
	}

	return s.store.Delete(ctx, record.ID)
}

// Pause pauses the torrent on the daemon, resolving its identity first if
// needed.
func (s *Service) Pause(ctx context.Context, user *models.User, torrentID string) error {
	return s.act(ctx, user, torrentID, s.daemon.Pause)
}

// Resume resumes the torrent on the daemon, resolving its identity first if
// needed.
func (s *Service) Resume(ctx context.Context, user *models.User, torrentID string) error {
	return s.act(ctx, user, torrentID, s.daemon.Resume)
}

func (s *Service) act(ctx context.Context, user *models.User, torrentID string, op func(ctx context.Context, hash string) error) error {
	record, err := s.owned(ctx, user, torrentID)
	if err != nil {
		return err
	}

	if record.Hash == "" {
		entries, err := s.daemon.ListTorrents(ctx)
		if err != nil {
			return err
		}
		if entry := s.resolver.Resolve(ctx, record, qbittorrent.NewEntrySnapshot(entries)); entry == nil {
			return ErrUnresolved
		}
	}

	return op(ctx, record.Hash)
}

func (s *Service) owned(ctx context.Context, user *models.User, torrentID string) (*models.Torrent, error) {
	record, err := s.store.GetByID(ctx, torrentID)
	if err != nil {
		return nil, err
	}
	if record.UserID != user.ID && !user.IsAdmin {
		return nil, ErrNotOwner
	}
	return record, nil
}

// Stats builds the per-user dashboard numbers. Daemon failures zero the live
// figures instead of failing the call.
func (s *Service) Stats(ctx context.Context, user *models.User) (*Stats, error) {
	records, err := s.records(ctx, user)
	if err != nil {
		return nil, err
	}

	stats := &Stats{TotalTorrents: len(records)}

	entries, err := s.daemon.ListTorrents(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Daemon unreachable, stats degraded to record counts")
		return stats, nil
	}

	snapshot := qbittorrent.NewEntrySnapshot(entries)
	for _, record := range records {
		entry := s.resolver.Resolve(ctx, record, snapshot)
		if entry == nil {
			continue
		}
		if _, ok := activeStates[entry.State]; ok {
			stats.ActiveTorrents++
		}
		if entry.Progress >= 1 {
			stats.CompletedTorrents++
		}
	}

	if info, err := s.daemon.TransferInfo(ctx); err == nil {
		stats.DownloadSpeed = info.DlInfoSpeed
		stats.UploadSpeed = info.UpInfoSpeed
	}

	return stats, nil
}

// magnetHash extracts the btih info-hash from a magnet URI, empty if absent.
func magnetHash(magnet string) string {
	lowered := strings.ToLower(magnet)
	idx := strings.Index(lowered, "btih:")
	if idx < 0 {
		return ""
	}

	hash := lowered[idx+len("btih:"):]
	if end := strings.IndexAny(hash, "&?"); end >= 0 {
		hash = hash[:end]
	}
	return hash
}

// magnetDisplayName extracts the dn parameter from a magnet URI, falling
// back to a generic placeholder.
func magnetDisplayName(magnet string) string {
	u, err := url.Parse(magnet)
	if err == nil {
		if dn := u.Query().Get("dn"); dn != "" {
			return dn
		}
	}
	return "Unnamed torrent"
}

// Copyright (c) 2025, the qbitmaster contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qbitmaster/qbitmaster/internal/models"
)

// separatorReplacer collapses the separators release names use into spaces.
var separatorReplacer = strings.NewReplacer(
	".", " ",
	"_", " ",
	"-", " ",
	"[", " ",
	"]", " ",
	"(", " ",
	")", " ",
)

var mediaExtensions = map[string]struct{}{
	"mkv":  {},
	"mp4":  {},
	"avi":  {},
	"mov":  {},
	"wmv":  {},
	"flv":  {},
	"webm": {},
	"m4v":  {},
	"mpg":  {},
	"mpeg": {},
	"iso":  {},
	"torrent": {},
}

// releaseTags is the vocabulary of quality/codec/language markers stripped
// before comparison.
var releaseTags = map[string]struct{}{
	"480p": {}, "720p": {}, "1080p": {}, "2160p": {}, "4k": {},
	"x264": {}, "x265": {}, "h264": {}, "h265": {}, "hevc": {}, "avc": {},
	"xvid": {}, "divx": {}, "10bit": {}, "8bit": {}, "hdr": {},
	"web": {}, "webdl": {}, "webrip": {}, "bluray": {}, "brrip": {},
	"bdrip": {}, "dvdrip": {}, "hdtv": {}, "hdrip": {}, "hdlight": {},
	"aac": {}, "ac3": {}, "dts": {}, "mp3": {}, "flac": {}, "atmos": {},
	"french": {}, "truefrench": {}, "vostfr": {}, "vff": {}, "vf": {},
	"vo": {}, "multi": {}, "subbed": {},
	"proper": {}, "repack": {}, "internal": {}, "limited": {},
	"extended": {}, "unrated": {}, "remastered": {},
}

var episodeTokenPattern = regexp.MustCompile(`^s\d{2}e\d{2}$`)

// NormalizeTorrentName applies the deterministic transform used for name
// matching: lowercase, separators to spaces, known media extensions and
// release-tag vocabulary removed, whitespace collapsed. It is idempotent.
func NormalizeTorrentName(name string) string {
	spaced := separatorReplacer.Replace(strings.ToLower(name))

	fields := strings.Fields(spaced)
	kept := fields[:0]
	for _, field := range fields {
		if _, ok := mediaExtensions[field]; ok {
			continue
		}
		if _, ok := releaseTags[field]; ok {
			continue
		}
		kept = append(kept, field)
	}

	return strings.Join(kept, " ")
}

// NamesMatch reports whether two normalized names identify the same torrent:
// exact equality, substring containment either way, or the same sNNeNN
// episode token with a shared title prefix of at least 5 characters.
func NamesMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}

	tokenA, titleA := episodeToken(a)
	tokenB, titleB := episodeToken(b)
	if tokenA != "" && tokenA == tokenB && commonPrefixLen(titleA, titleB) >= 5 {
		return true
	}

	return false
}

// episodeToken returns the first sNNeNN token and the title preceding it.
func episodeToken(name string) (token, title string) {
	fields := strings.Fields(name)
	for i, field := range fields {
		if episodeTokenPattern.MatchString(field) {
			return field, strings.Join(fields[:i], " ")
		}
	}
	return "", ""
}

func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

// EntrySnapshot is one read of the daemon's live entry set with a hash index
// for O(1) primary-path lookups.
type EntrySnapshot struct {
	Entries []TorrentEntry
	byHash  map[string]int
}

func NewEntrySnapshot(entries []TorrentEntry) *EntrySnapshot {
	snapshot := &EntrySnapshot{
		Entries: entries,
		byHash:  make(map[string]int, len(entries)),
	}
	for i, entry := range entries {
		snapshot.byHash[strings.ToLower(entry.Hash)] = i
	}
	return snapshot
}

// ByHash returns the entry with the given hash, case-insensitively.
func (s *EntrySnapshot) ByHash(hash string) *TorrentEntry {
	if hash == "" {
		return nil
	}
	if i, ok := s.byHash[strings.ToLower(hash)]; ok {
		return &s.Entries[i]
	}
	return nil
}

// Hashes returns the lowercased hash set, used for submission-time diffing.
func (s *EntrySnapshot) Hashes() map[string]struct{} {
	hashes := make(map[string]struct{}, len(s.Entries))
	for hash := range s.byHash {
		hashes[hash] = struct{}{}
	}
	return hashes
}

// HashPersister stores a resolved daemon hash back onto a torrent record so
// later reconciliations take the primary path.
type HashPersister interface {
	UpdateHash(ctx context.Context, id, hash string) error
}

// Resolver reconciles persisted torrent records with the daemon's live view.
type Resolver struct {
	gateway     *Gateway
	store       HashPersister
	settleDelay time.Duration
}

func NewResolver(gateway *Gateway, store HashPersister) *Resolver {
	return &Resolver{
		gateway:     gateway,
		store:       store,
		settleDelay: time.Second,
	}
}

// Resolve finds the live entry for a record. The persisted hash wins when it
// is still live; otherwise the first name match in entry order is accepted
// and its hash persisted immediately. A nil result is the soft
// "daemon state unknown" outcome, never an error.
func (r *Resolver) Resolve(ctx context.Context, record *models.Torrent, snapshot *EntrySnapshot) *TorrentEntry {
	if entry := snapshot.ByHash(record.Hash); entry != nil {
		return entry
	}

	want := NormalizeTorrentName(record.Name)
	for i := range snapshot.Entries {
		entry := &snapshot.Entries[i]
		if !NamesMatch(want, NormalizeTorrentName(entry.Name)) {
			continue
		}

		if err := r.store.UpdateHash(ctx, record.ID, entry.Hash); err != nil {
			log.Error().Err(err).Str("torrentID", record.ID).Msg("Failed to persist resolved hash")
		} else {
			record.Hash = strings.ToLower(entry.Hash)
		}
		return entry
	}

	return nil
}

// ResolveNewHash isolates the hash of a torrent submitted moments ago by
// diffing the live entry set against the pre-submission snapshot. A single
// new entry is unambiguous; several fall back to the most recently added
// live entry; none resolves to "" silently — the record is fixed up later
// through name matching.
//
// Known race: concurrent submissions can produce several new entries and the
// most-recently-added fallback may cross-assign hashes between them.
func (r *Resolver) ResolveNewHash(ctx context.Context, before map[string]struct{}) string {
	select {
	case <-time.After(r.settleDelay):
	case <-ctx.Done():
		return ""
	}

	entries, err := r.gateway.ListTorrents(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Post-submission listing failed, hash left unresolved")
		return ""
	}
	if len(entries) == 0 {
		return ""
	}

	var fresh []string
	for _, entry := range entries {
		hash := strings.ToLower(entry.Hash)
		if _, ok := before[hash]; !ok {
			fresh = append(fresh, hash)
		}
	}

	// No new entry after the settling delay: the submission did not register
	// (yet); picking an old entry here would misattribute identity.
	if len(fresh) == 0 {
		return ""
	}
	if len(fresh) == 1 {
		return fresh[0]
	}

	var latest *TorrentEntry
	for i := range entries {
		if latest == nil || entries[i].AddedOn > latest.AddedOn {
			latest = &entries[i]
		}
	}
	return strings.ToLower(latest.Hash)
}

// SetSettleDelay overrides the post-submission settling delay, used in tests.
func (r *Resolver) SetSettleDelay(d time.Duration) {
	r.settleDelay = d
}

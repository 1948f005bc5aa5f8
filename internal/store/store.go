// Package store is the durable grant store: temp roles, custom roles
// with share lists, gifted membership credits and premium channels,
// all kept in one JSON document that is rewritten atomically
// (write-temp-then-rename) on every mutation. Before each rewrite the
// previous durable file is copied into the backup directory; only the
// most recent copies are retained.
//
// Every mutating method re-checks its preconditions against the
// freshest in-memory snapshot under the store lock, so a caller that
// lost a check-then-act race gets the typed precondition error instead
// of silently overrunning an invariant.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Precondition errors. Callers match these with errors.Is.
var (
	ErrDuplicateGrant      = errors.New("user already holds this temp role")
	ErrNotFound            = errors.New("no such grant")
	ErrAlreadyExists       = errors.New("record already exists")
	ErrLimitReached        = errors.New("share limit reached")
	ErrAlreadyShared       = errors.New("role already shared with this user")
	ErrNotShared           = errors.New("role not shared with this user")
	ErrCreditUsed          = errors.New("gift credit already in use")
	ErrTargetAlreadyGifted = errors.New("target already has a gifted membership")
)

// Store owns the grant document and its persistence.
type Store struct {
	mu sync.Mutex

	path      string
	backupDir string
	retention int

	doc *document
}

// New loads the store from path, starting empty when the file is
// missing or unreadable.
func New(path, backupDir string, retention int, guildID string) (*Store, error) {
	for _, dir := range []string{filepath.Dir(path), backupDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	s := &Store{
		path:      path,
		backupDir: backupDir,
		retention: retention,
		doc:       newDocument(guildID),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// fresh start
	case err != nil:
		return nil, fmt.Errorf("failed to read store file: %w", err)
	default:
		doc := &document{}
		if jsonErr := json.Unmarshal(data, doc); jsonErr != nil {
			slog.Warn("Store file is corrupt, starting empty", "path", path, "error", jsonErr)
		} else {
			doc.normalize(guildID)
			s.doc = doc
		}
	}

	return s, nil
}

// persistLocked backs up the current durable file, then swaps in the
// new document via temp file + rename. Callers hold s.mu.
func (s *Store) persistLocked() error {
	if err := s.backupLocked(); err != nil {
		slog.Warn("Failed to back up store file", "error", err)
	}

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store document: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp store file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

const backupPrefix = "grants-"

func (s *Store) backupLocked() error {
	src, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer src.Close()

	stamp := time.Now().UTC().Format("20060102T150405.000")
	stamp = strings.ReplaceAll(stamp, ".", "")
	dst, err := os.Create(filepath.Join(s.backupDir, backupPrefix+stamp+".json"))
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	return s.pruneBackupsLocked()
}

// pruneBackupsLocked keeps the N most recent copies, deleting the
// oldest first. Names sort lexically because the stamp is fixed-width.
func (s *Store) pruneBackupsLocked() error {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for len(names) > s.retention {
		if err := os.Remove(filepath.Join(s.backupDir, names[0])); err != nil {
			slog.Warn("Failed to prune backup", "file", names[0], "error", err)
		}
		names = names[1:]
	}
	return nil
}

// ---- temp roles ----

// AddTempRole records a new grant. At most one entry per (user, role)
// pair.
func (s *Store) AddTempRole(userID string, entry TempRoleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.doc.TempRoles[userID] {
		if e.RoleID == entry.RoleID {
			return ErrDuplicateGrant
		}
	}
	s.doc.TempRoles[userID] = append(s.doc.TempRoles[userID], entry)
	if err := s.persistLocked(); err != nil {
		s.removeTempRoleLocked(userID, entry.RoleID)
		return err
	}
	return nil
}

// GetTempRole returns the entry for (user, role), if present.
func (s *Store) GetTempRole(userID, roleID string) (TempRoleEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.doc.TempRoles[userID] {
		if e.RoleID == roleID {
			return e, true
		}
	}
	return TempRoleEntry{}, false
}

// ExtendTempRole pushes the expiry out by the given duration, additive
// from the stored expiry (not from now), and clears the warned flag.
func (s *Store) ExtendTempRole(userID, roleID string, by time.Duration) (TempRoleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.doc.TempRoles[userID]
	for i := range entries {
		if entries[i].RoleID != roleID {
			continue
		}
		prev := entries[i]
		entries[i].ExpiresAt = entries[i].ExpiresAt.Add(by)
		entries[i].Warned = false
		if err := s.persistLocked(); err != nil {
			entries[i] = prev
			return TempRoleEntry{}, err
		}
		return entries[i], nil
	}
	return TempRoleEntry{}, ErrNotFound
}

// MarkWarned sets the one-time warning flag on an entry.
func (s *Store) MarkWarned(userID, roleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.doc.TempRoles[userID]
	for i := range entries {
		if entries[i].RoleID != roleID {
			continue
		}
		if entries[i].Warned {
			return false
		}
		entries[i].Warned = true
		if err := s.persistLocked(); err != nil {
			entries[i].Warned = false
			slog.Error("Failed to persist warned flag", "user", userID, "role", roleID, "error", err)
			return false
		}
		return true
	}
	return false
}

// RemoveTempRole deletes the entry for (user, role). It reports
// whether an entry existed; a second removal is a safe no-op.
func (s *Store) RemoveTempRole(userID, roleID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.removeTempRoleLocked(userID, roleID) {
		return false, nil
	}
	if err := s.persistLocked(); err != nil {
		return true, err
	}
	return true, nil
}

func (s *Store) removeTempRoleLocked(userID, roleID string) bool {
	entries := s.doc.TempRoles[userID]
	for i, e := range entries {
		if e.RoleID == roleID {
			s.doc.TempRoles[userID] = append(entries[:i:i], entries[i+1:]...)
			if len(s.doc.TempRoles[userID]) == 0 {
				delete(s.doc.TempRoles, userID)
			}
			return true
		}
	}
	return false
}

// TempRolesFor returns a copy of one user's entries.
func (s *Store) TempRolesFor(userID string) []TempRoleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.doc.TempRoles[userID]
	out := make([]TempRoleEntry, len(entries))
	copy(out, entries)
	return out
}

// ListTempRoles returns every entry, soonest expiry first.
func (s *Store) ListTempRoles() []TempRoleGrant {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []TempRoleGrant
	for userID, entries := range s.doc.TempRoles {
		for _, e := range entries {
			out = append(out, TempRoleGrant{UserID: userID, TempRoleEntry: e})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out
}

// ---- custom roles ----

// CreateCustomRole records a user's custom role. One record per owner,
// ever.
func (s *Store) CreateCustomRole(ownerID, roleID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.CustomRoles[ownerID]; ok {
		return ErrAlreadyExists
	}
	s.doc.CustomRoles[ownerID] = &CustomRoleRecord{RoleID: roleID, CreatedAt: at}
	if err := s.persistLocked(); err != nil {
		delete(s.doc.CustomRoles, ownerID)
		return err
	}
	return nil
}

// GetCustomRole returns a copy of the owner's record.
func (s *Store) GetCustomRole(ownerID string) (CustomRoleRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.doc.CustomRoles[ownerID]
	if !ok {
		return CustomRoleRecord{}, false
	}
	return copyCustomRole(rec), true
}

// AddShare adds a target to the owner's share set, enforcing the
// limit against the freshest state. The persisted write is the
// authoritative gate: a racing caller sees ErrLimitReached or
// ErrAlreadyShared here, never a silent overrun.
func (s *Store) AddShare(ownerID, targetID string, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.doc.CustomRoles[ownerID]
	if !ok {
		return ErrNotFound
	}
	if rec.Shared(targetID) {
		return ErrAlreadyShared
	}
	if len(rec.SharedWith) >= limit {
		return ErrLimitReached
	}
	rec.SharedWith = append(rec.SharedWith, targetID)
	if err := s.persistLocked(); err != nil {
		rec.SharedWith = rec.SharedWith[:len(rec.SharedWith)-1]
		return err
	}
	return nil
}

// RemoveShare drops a target from the owner's share set.
func (s *Store) RemoveShare(ownerID, targetID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.doc.CustomRoles[ownerID]
	if !ok {
		return false, nil
	}
	for i, id := range rec.SharedWith {
		if id == targetID {
			rec.SharedWith = append(rec.SharedWith[:i:i], rec.SharedWith[i+1:]...)
			if err := s.persistLocked(); err != nil {
				return true, err
			}
			return true, nil
		}
	}
	return false, nil
}

// SetShares replaces the owner's share set. Used by the reconciliation
// sweep when trimming drifted share lists.
func (s *Store) SetShares(ownerID string, shares []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.doc.CustomRoles[ownerID]
	if !ok {
		return ErrNotFound
	}
	prev := rec.SharedWith
	rec.SharedWith = append([]string(nil), shares...)
	if err := s.persistLocked(); err != nil {
		rec.SharedWith = prev
		return err
	}
	return nil
}

// RemoveCustomRole deletes the owner's record.
func (s *Store) RemoveCustomRole(ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.doc.CustomRoles[ownerID]
	if !ok {
		return false, nil
	}
	delete(s.doc.CustomRoles, ownerID)
	if err := s.persistLocked(); err != nil {
		s.doc.CustomRoles[ownerID] = rec
		return true, err
	}
	return true, nil
}

// ListCustomRoles returns a copy of every record.
func (s *Store) ListCustomRoles() []CustomRoleGrant {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CustomRoleGrant, 0, len(s.doc.CustomRoles))
	for ownerID, rec := range s.doc.CustomRoles {
		out = append(out, CustomRoleGrant{OwnerID: ownerID, CustomRoleRecord: copyCustomRole(rec)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerID < out[j].OwnerID })
	return out
}

func copyCustomRole(rec *CustomRoleRecord) CustomRoleRecord {
	out := *rec
	out.SharedWith = append([]string(nil), rec.SharedWith...)
	return out
}

// ---- gifted credits ----

// AddGiftedCredit records a gift. One active credit per owner, and a
// target may be the beneficiary of at most one credit globally.
func (s *Store) AddGiftedCredit(ownerID, targetID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.GiftedCredits[ownerID]; ok {
		return ErrCreditUsed
	}
	for _, credit := range s.doc.GiftedCredits {
		if credit.TargetID == targetID {
			return ErrTargetAlreadyGifted
		}
	}
	s.doc.GiftedCredits[ownerID] = &GiftedCredit{TargetID: targetID, GrantedAt: at}
	if err := s.persistLocked(); err != nil {
		delete(s.doc.GiftedCredits, ownerID)
		return err
	}
	return nil
}

// GetGiftedCredit returns the owner's active credit.
func (s *Store) GetGiftedCredit(ownerID string) (GiftedCredit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	credit, ok := s.doc.GiftedCredits[ownerID]
	if !ok {
		return GiftedCredit{}, false
	}
	return *credit, true
}

// RemoveGiftedCredit deletes the owner's credit.
func (s *Store) RemoveGiftedCredit(ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	credit, ok := s.doc.GiftedCredits[ownerID]
	if !ok {
		return false, nil
	}
	delete(s.doc.GiftedCredits, ownerID)
	if err := s.persistLocked(); err != nil {
		s.doc.GiftedCredits[ownerID] = credit
		return true, err
	}
	return true, nil
}

// ListGiftedCredits returns a copy of every credit.
func (s *Store) ListGiftedCredits() []GiftedGrant {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]GiftedGrant, 0, len(s.doc.GiftedCredits))
	for ownerID, credit := range s.doc.GiftedCredits {
		out = append(out, GiftedGrant{OwnerID: ownerID, GiftedCredit: *credit})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerID < out[j].OwnerID })
	return out
}

// ---- premium channels ----

// SetPremiumChannel records the owner's private channel. One per
// owner.
func (s *Store) SetPremiumChannel(ownerID, channelID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.PremiumChannels[ownerID]; ok {
		return ErrAlreadyExists
	}
	s.doc.PremiumChannels[ownerID] = &PremiumChannelRecord{ChannelID: channelID, CreatedAt: at}
	if err := s.persistLocked(); err != nil {
		delete(s.doc.PremiumChannels, ownerID)
		return err
	}
	return nil
}

// GetPremiumChannel returns the owner's channel record.
func (s *Store) GetPremiumChannel(ownerID string) (PremiumChannelRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.doc.PremiumChannels[ownerID]
	if !ok {
		return PremiumChannelRecord{}, false
	}
	return *rec, true
}

// RemovePremiumChannel deletes the owner's channel record.
func (s *Store) RemovePremiumChannel(ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.doc.PremiumChannels[ownerID]
	if !ok {
		return false, nil
	}
	delete(s.doc.PremiumChannels, ownerID)
	if err := s.persistLocked(); err != nil {
		s.doc.PremiumChannels[ownerID] = rec
		return true, err
	}
	return true, nil
}

// ListPremiumChannels returns a copy of every channel record.
func (s *Store) ListPremiumChannels() []PremiumChannelGrant {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PremiumChannelGrant, 0, len(s.doc.PremiumChannels))
	for ownerID, rec := range s.doc.PremiumChannels {
		out = append(out, PremiumChannelGrant{OwnerID: ownerID, PremiumChannelRecord: *rec})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerID < out[j].OwnerID })
	return out
}

// ---- benefits notices ----

// NoticeTier returns the highest tier name a user has been notified
// about, or "".
func (s *Store) NoticeTier(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.NoticeTiers[userID]
}

// SetNoticeTier records the highest tier a user has been notified
// about.
func (s *Store) SetNoticeTier(userID, tier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.doc.NoticeTiers[userID]
	s.doc.NoticeTiers[userID] = tier
	if err := s.persistLocked(); err != nil {
		if had {
			s.doc.NoticeTiers[userID] = prev
		} else {
			delete(s.doc.NoticeTiers, userID)
		}
		return err
	}
	return nil
}

// ---- import / export ----

// Export returns the current document serialized as JSON.
func (s *Store) Export() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.MarshalIndent(s.doc, "", "  ")
}

// Replace swaps in an imported document after schema validation,
// backing up the current durable file first.
func (s *Store) Replace(raw []byte) error {
	doc := &document{}
	if err := json.Unmarshal(raw, doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validateSchema(doc); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc.normalize(s.doc.GuildID)
	prev := s.doc
	s.doc = doc
	if err := s.persistLocked(); err != nil {
		s.doc = prev
		return err
	}
	return nil
}

func validateSchema(doc *document) error {
	for userID, entries := range doc.TempRoles {
		if userID == "" {
			return fmt.Errorf("schema: empty user ID in members")
		}
		for _, e := range entries {
			if e.RoleID == "" {
				return fmt.Errorf("schema: entry for user %s has no roleId", userID)
			}
			if e.GrantedAt.IsZero() || e.ExpiresAt.IsZero() {
				return fmt.Errorf("schema: entry for user %s is missing timestamps", userID)
			}
		}
	}
	for ownerID, rec := range doc.CustomRoles {
		if rec == nil || rec.RoleID == "" {
			return fmt.Errorf("schema: custom role for owner %s has no roleId", ownerID)
		}
	}
	for ownerID, credit := range doc.GiftedCredits {
		if credit == nil || credit.TargetID == "" {
			return fmt.Errorf("schema: gifted credit for owner %s has no targetId", ownerID)
		}
	}
	return nil
}

package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "grants.json"), filepath.Join(dir, "backups"), 5, "guild-1")
	require.NoError(t, err)
	return s
}

func tempEntry(roleID string, days int) TempRoleEntry {
	now := time.Now().UTC().Truncate(time.Second)
	return TempRoleEntry{
		RoleID:    roleID,
		GrantedAt: now,
		ExpiresAt: now.Add(time.Duration(days) * 24 * time.Hour),
	}
}

func TestReloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grants.json")
	backups := filepath.Join(dir, "backups")

	s, err := New(path, backups, 5, "guild-1")
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.AddTempRole("user-1", tempEntry("role-a", 7)))
	require.NoError(t, s.CreateCustomRole("owner-1", "role-custom", now))
	require.NoError(t, s.AddShare("owner-1", "friend-1", 3))
	require.NoError(t, s.AddGiftedCredit("diamond-1", "target-1", now))
	require.NoError(t, s.SetPremiumChannel("diamond-1", "chan-1", now))
	require.NoError(t, s.SetNoticeTier("user-1", "gold"))

	reloaded, err := New(path, backups, 5, "guild-1")
	require.NoError(t, err)

	entry, ok := reloaded.GetTempRole("user-1", "role-a")
	require.True(t, ok)
	assert.Equal(t, "role-a", entry.RoleID)

	rec, ok := reloaded.GetCustomRole("owner-1")
	require.True(t, ok)
	assert.Equal(t, "role-custom", rec.RoleID)
	assert.Equal(t, []string{"friend-1"}, rec.SharedWith)

	credit, ok := reloaded.GetGiftedCredit("diamond-1")
	require.True(t, ok)
	assert.Equal(t, "target-1", credit.TargetID)

	chanRec, ok := reloaded.GetPremiumChannel("diamond-1")
	require.True(t, ok)
	assert.Equal(t, "chan-1", chanRec.ChannelID)

	assert.Equal(t, "gold", reloaded.NoticeTier("user-1"))
}

func TestStrayTempFileIgnoredOnLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grants.json")
	backups := filepath.Join(dir, "backups")

	s, err := New(path, backups, 5, "guild-1")
	require.NoError(t, err)
	require.NoError(t, s.AddTempRole("user-1", tempEntry("role-a", 7)))

	// A crash between writing the temp file and renaming it leaves a
	// stray .tmp next to the committed document.
	require.NoError(t, os.WriteFile(path+".tmp", []byte(`{"guildId":"guild-1"`), 0o644))

	reloaded, err := New(path, backups, 5, "guild-1")
	require.NoError(t, err)
	_, ok := reloaded.GetTempRole("user-1", "role-a")
	assert.True(t, ok, "committed state should survive a stray temp file")
}

func TestCorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grants.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s, err := New(path, filepath.Join(dir, "backups"), 5, "guild-1")
	require.NoError(t, err)
	assert.Empty(t, s.ListTempRoles())
}

func TestBackupRotation(t *testing.T) {
	dir := t.TempDir()
	backups := filepath.Join(dir, "backups")
	s, err := New(filepath.Join(dir, "grants.json"), backups, 3, "guild-1")
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		require.NoError(t, s.SetNoticeTier("user-1", "silver"))
	}

	entries, err := os.ReadDir(backups)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(entries), 3)
	for _, e := range entries {
		assert.Contains(t, e.Name(), backupPrefix)
	}
}

func TestAddTempRoleDuplicate(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddTempRole("user-1", tempEntry("role-a", 7)))

	err := s.AddTempRole("user-1", tempEntry("role-a", 3))
	assert.ErrorIs(t, err, ErrDuplicateGrant)

	// Same role on a different user is fine.
	assert.NoError(t, s.AddTempRole("user-2", tempEntry("role-a", 3)))
}

func TestExtendTempRoleAddsToStoredExpiry(t *testing.T) {
	s := newTestStore(t)
	entry := tempEntry("role-a", 7)
	require.NoError(t, s.AddTempRole("user-1", entry))
	require.True(t, s.MarkWarned("user-1", "role-a"))

	extended, err := s.ExtendTempRole("user-1", "role-a", 3*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, entry.ExpiresAt.Add(3*24*time.Hour), extended.ExpiresAt)
	assert.False(t, extended.Warned, "extension should reset the warning flag")

	_, err = s.ExtendTempRole("user-1", "role-missing", time.Hour)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkWarnedOnce(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddTempRole("user-1", tempEntry("role-a", 1)))

	assert.True(t, s.MarkWarned("user-1", "role-a"))
	assert.False(t, s.MarkWarned("user-1", "role-a"), "second mark must report already-warned")
	assert.False(t, s.MarkWarned("user-1", "role-missing"))
}

func TestListTempRolesSortedByExpiry(t *testing.T) {
	s := newTestStore(t)
	late := tempEntry("role-late", 10)
	early := tempEntry("role-early", 1)
	require.NoError(t, s.AddTempRole("user-1", late))
	require.NoError(t, s.AddTempRole("user-2", early))

	all := s.ListTempRoles()
	require.Len(t, all, 2)
	assert.Equal(t, "role-early", all[0].RoleID)
	assert.Equal(t, "role-late", all[1].RoleID)
}

func TestShareLimitAndDuplicates(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, s.CreateCustomRole("owner-1", "role-custom", now))

	require.NoError(t, s.AddShare("owner-1", "friend-1", 2))
	assert.ErrorIs(t, s.AddShare("owner-1", "friend-1", 2), ErrAlreadyShared)
	require.NoError(t, s.AddShare("owner-1", "friend-2", 2))
	assert.ErrorIs(t, s.AddShare("owner-1", "friend-3", 2), ErrLimitReached)

	rec, ok := s.GetCustomRole("owner-1")
	require.True(t, ok)
	assert.Equal(t, []string{"friend-1", "friend-2"}, rec.SharedWith)

	removed, err := s.RemoveShare("owner-1", "friend-1")
	require.NoError(t, err)
	assert.True(t, removed)
	require.NoError(t, s.AddShare("owner-1", "friend-3", 2))
}

func TestShareRequiresRecord(t *testing.T) {
	s := newTestStore(t)
	assert.ErrorIs(t, s.AddShare("owner-1", "friend-1", 2), ErrNotFound)
}

func TestCustomRoleRecordIsCopied(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateCustomRole("owner-1", "role-custom", time.Now().UTC()))
	require.NoError(t, s.AddShare("owner-1", "friend-1", 2))

	rec, ok := s.GetCustomRole("owner-1")
	require.True(t, ok)
	rec.SharedWith[0] = "mutated"

	fresh, _ := s.GetCustomRole("owner-1")
	assert.Equal(t, []string{"friend-1"}, fresh.SharedWith)
}

func TestGiftedCreditUniqueness(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.AddGiftedCredit("owner-1", "target-1", now))
	assert.ErrorIs(t, s.AddGiftedCredit("owner-1", "target-2", now), ErrCreditUsed)
	assert.ErrorIs(t, s.AddGiftedCredit("owner-2", "target-1", now), ErrTargetAlreadyGifted)

	removed, err := s.RemoveGiftedCredit("owner-1")
	require.NoError(t, err)
	assert.True(t, removed)

	// Both the owner's credit and the target are free again.
	assert.NoError(t, s.AddGiftedCredit("owner-2", "target-1", now))
}

func TestPremiumChannelSingle(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.SetPremiumChannel("owner-1", "chan-1", now))
	assert.ErrorIs(t, s.SetPremiumChannel("owner-1", "chan-2", now), ErrAlreadyExists)

	removed, err := s.RemovePremiumChannel("owner-1")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoError(t, s.SetPremiumChannel("owner-1", "chan-2", now))
}

func TestExportReplace(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddTempRole("user-1", tempEntry("role-a", 7)))

	raw, err := s.Export()
	require.NoError(t, err)
	var check map[string]any
	require.NoError(t, json.Unmarshal(raw, &check))

	other := newTestStore(t)
	require.NoError(t, other.Replace(raw))
	_, ok := other.GetTempRole("user-1", "role-a")
	assert.True(t, ok)
}

func TestReplaceRejectsBadDocuments(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddTempRole("user-1", tempEntry("role-a", 7)))

	assert.Error(t, s.Replace([]byte("{not json")))
	assert.Error(t, s.Replace([]byte(`{"members":"nope"}`)))

	// A failed import must leave the current document intact.
	_, ok := s.GetTempRole("user-1", "role-a")
	assert.True(t, ok)
}

func TestTempRolePropertyModel(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		dir := os.TempDir()
		work, err := os.MkdirTemp(dir, "store-rapid-")
		if err != nil {
			t.Fatalf("mkdtemp: %v", err)
		}
		defer os.RemoveAll(work)

		s, err := New(filepath.Join(work, "grants.json"), filepath.Join(work, "backups"), 2, "guild-1")
		if err != nil {
			t.Fatalf("new store: %v", err)
		}

		users := rapid.SampledFrom([]string{"u1", "u2", "u3"})
		roles := rapid.SampledFrom([]string{"r1", "r2"})
		model := map[string]bool{}

		t.Repeat(map[string]func(*rapid.T){
			"add": func(t *rapid.T) {
				u, r := users.Draw(t, "user"), roles.Draw(t, "role")
				err := s.AddTempRole(u, tempEntry(r, 1))
				if model[u+"/"+r] {
					if !errors.Is(err, ErrDuplicateGrant) {
						t.Fatalf("expected duplicate error, got %v", err)
					}
					return
				}
				if err != nil {
					t.Fatalf("add: %v", err)
				}
				model[u+"/"+r] = true
			},
			"remove": func(t *rapid.T) {
				u, r := users.Draw(t, "user"), roles.Draw(t, "role")
				removed, err := s.RemoveTempRole(u, r)
				if err != nil {
					t.Fatalf("remove: %v", err)
				}
				if removed != model[u+"/"+r] {
					t.Fatalf("removed=%v but model=%v", removed, model[u+"/"+r])
				}
				delete(model, u+"/"+r)
			},
			"": func(t *rapid.T) {
				count := 0
				for range model {
					count++
				}
				if got := len(s.ListTempRoles()); got != count {
					t.Fatalf("listed %d grants, model has %d", got, count)
				}
			},
		})
	})
}

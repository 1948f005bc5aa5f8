package grants

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bruh61/m-membership-dc-bot/internal/config"
	"github.com/Bruh61/m-membership-dc-bot/internal/guild"
	"github.com/Bruh61/m-membership-dc-bot/internal/membership"
	"github.com/Bruh61/m-membership-dc-bot/internal/store"
)

// fakeGuild is an in-memory guild.Provider with per-call failure
// injection.
type fakeGuild struct {
	mu       sync.Mutex
	members  map[string]*guild.Member
	roles    map[string]*guild.Role
	channels map[string]string
	nextID   int

	gradientOK   bool
	unmanageable map[string]bool
	failAddRole  map[string]error // "userID/roleID"
}

func newFakeGuild() *fakeGuild {
	return &fakeGuild{
		members:      make(map[string]*guild.Member),
		roles:        make(map[string]*guild.Role),
		channels:     make(map[string]string),
		unmanageable: make(map[string]bool),
		failAddRole:  make(map[string]error),
	}
}

func (f *fakeGuild) addMember(id, username string, roleIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[id] = &guild.Member{ID: id, Username: username, RoleIDs: roleIDs}
}

func (f *fakeGuild) addRoleDef(id, name string, position int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[id] = &guild.Role{ID: id, Name: name, Position: position}
}

func (f *fakeGuild) removeMember(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members, id)
}

func (f *fakeGuild) memberRoles(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[id]
	if !ok {
		return nil
	}
	out := make([]string, len(m.RoleIDs))
	copy(out, m.RoleIDs)
	return out
}

func (f *fakeGuild) hasRole(userID, roleID string) bool {
	for _, id := range f.memberRoles(userID) {
		if id == roleID {
			return true
		}
	}
	return false
}

func (f *fakeGuild) Member(_ context.Context, userID string) (*guild.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[userID]
	if !ok {
		return nil, guild.ErrMemberNotFound
	}
	cp := *m
	cp.RoleIDs = append([]string(nil), m.RoleIDs...)
	return &cp, nil
}

func (f *fakeGuild) Role(_ context.Context, roleID string) (*guild.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[roleID]
	if !ok {
		return nil, guild.ErrRoleNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeGuild) AddRole(_ context.Context, userID, roleID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failAddRole[userID+"/"+roleID]; ok {
		return err
	}
	m, ok := f.members[userID]
	if !ok {
		return guild.ErrMemberNotFound
	}
	for _, id := range m.RoleIDs {
		if id == roleID {
			return nil
		}
	}
	m.RoleIDs = append(m.RoleIDs, roleID)
	return nil
}

func (f *fakeGuild) RemoveRole(_ context.Context, userID, roleID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[userID]
	if !ok {
		return guild.ErrMemberNotFound
	}
	kept := m.RoleIDs[:0]
	for _, id := range m.RoleIDs {
		if id != roleID {
			kept = append(kept, id)
		}
	}
	m.RoleIDs = kept
	return nil
}

func (f *fakeGuild) CreateRole(_ context.Context, name, _ string) (*guild.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	role := &guild.Role{ID: fmt.Sprintf("created-%d", f.nextID), Name: name, Position: 1}
	f.roles[role.ID] = role
	return role, nil
}

func (f *fakeGuild) DeleteRole(_ context.Context, roleID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.roles[roleID]; !ok {
		return guild.ErrRoleNotFound
	}
	delete(f.roles, roleID)
	for _, m := range f.members {
		kept := m.RoleIDs[:0]
		for _, id := range m.RoleIDs {
			if id != roleID {
				kept = append(kept, id)
			}
		}
		m.RoleIDs = kept
	}
	return nil
}

func (f *fakeGuild) RenameRole(_ context.Context, roleID, name, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[roleID]
	if !ok {
		return guild.ErrRoleNotFound
	}
	r.Name = name
	return nil
}

func (f *fakeGuild) SetRoleColors(_ context.Context, roleID string, _ int, secondary *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.roles[roleID]; !ok {
		return guild.ErrRoleNotFound
	}
	if secondary != nil && !f.gradientOK {
		return guild.ErrGradientUnavailable
	}
	return nil
}

func (f *fakeGuild) PlaceRoleBelow(_ context.Context, roleID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.roles[roleID]; !ok {
		return guild.ErrRoleNotFound
	}
	return nil
}

func (f *fakeGuild) EnsureManageable(_ context.Context, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unmanageable[roleID] {
		return guild.ErrNotManageable
	}
	return nil
}

func (f *fakeGuild) CreateVoiceChannel(_ context.Context, name, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("chan-%d", f.nextID)
	f.channels[id] = name
	return id, nil
}

func (f *fakeGuild) DeleteChannel(_ context.Context, channelID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.channels, channelID)
	return nil
}

// fakeNotifier records announcements and direct messages.
type fakeNotifier struct {
	mu            sync.Mutex
	announcements []string
	dms           map[string][]string
	dmClosed      bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{dms: make(map[string][]string)}
}

func (f *fakeNotifier) Announce(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announcements = append(f.announcements, msg)
}

func (f *fakeNotifier) DirectMessage(userID, msg string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dmClosed {
		return false
	}
	f.dms[userID] = append(f.dms[userID], msg)
	return true
}

func (f *fakeNotifier) announceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.announcements)
}

func (f *fakeNotifier) dmCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dms[userID])
}

func testSettings() *config.Settings {
	return &config.Settings{
		MembershipRoleIDs: map[string]string{
			"bronze":  "role-bronze",
			"silver":  "role-silver",
			"gold":    "role-gold",
			"diamond": "role-diamond",
		},
		ShareLimits:              map[string]int{"gold": 2, "diamond": 5},
		ShareEligibleTiers:       []string{"gold", "diamond"},
		CustomRoleTiers:          []string{"silver", "gold", "diamond"},
		GiftEligibleTier:         "diamond",
		GiftedTier:               "silver",
		AnchorRoleID:             "role-anchor",
		CustomRolePrefix:         "★ ",
		DeleteRoleOnRevoke:       true,
		PremiumChannelCategoryID: "cat-premium",
		PremiumChannelPrefix:     "premium-",
	}
}

type testEnv struct {
	svc      *Service
	guild    *fakeGuild
	notifier *fakeNotifier
	store    *store.Store
	settings *config.Settings
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "grants.json"), filepath.Join(dir, "backups"), 3, "guild-1")
	require.NoError(t, err)

	settings := testSettings()
	g := newFakeGuild()
	g.addRoleDef("role-anchor", "anchor", 10)
	for _, id := range []string{"role-bronze", "role-silver", "role-gold", "role-diamond", "role-temp"} {
		g.addRoleDef(id, id, 5)
	}
	n := newFakeNotifier()

	return &testEnv{
		svc:      NewService(st, g, n, membership.NewResolver(settings), settings),
		guild:    g,
		notifier: n,
		store:    st,
		settings: settings,
	}
}

func TestGrantTempRole(t *testing.T) {
	env := newTestEnv(t)
	env.guild.addMember("user-1", "alice")

	before := time.Now().UTC()
	entry, err := env.svc.GrantTempRole(context.Background(), "user-1", "role-temp", 7)
	require.NoError(t, err)

	assert.True(t, env.guild.hasRole("user-1", "role-temp"))
	stored, ok := env.store.GetTempRole("user-1", "role-temp")
	require.True(t, ok)
	assert.Equal(t, entry.ExpiresAt, stored.ExpiresAt)
	assert.WithinDuration(t, before.Add(7*24*time.Hour), entry.ExpiresAt, time.Minute)
	assert.Equal(t, 1, env.notifier.announceCount())
}

func TestGrantTempRoleDuplicate(t *testing.T) {
	env := newTestEnv(t)
	env.guild.addMember("user-1", "alice")

	_, err := env.svc.GrantTempRole(context.Background(), "user-1", "role-temp", 7)
	require.NoError(t, err)

	_, err = env.svc.GrantTempRole(context.Background(), "user-1", "role-temp", 3)
	assert.ErrorIs(t, err, store.ErrDuplicateGrant)
	assert.Equal(t, 1, env.notifier.announceCount())
}

func TestGrantTempRoleUnmanageable(t *testing.T) {
	env := newTestEnv(t)
	env.guild.addMember("user-1", "alice")
	env.guild.unmanageable["role-temp"] = true

	_, err := env.svc.GrantTempRole(context.Background(), "user-1", "role-temp", 7)
	assert.ErrorIs(t, err, guild.ErrNotManageable)
	assert.False(t, env.guild.hasRole("user-1", "role-temp"))
}

func TestGrantTempRoleMemberMissing(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.GrantTempRole(context.Background(), "user-ghost", "role-temp", 7)
	assert.ErrorIs(t, err, guild.ErrMemberNotFound)
}

func TestGrantTempRoleLiveFailureLeavesNoRecord(t *testing.T) {
	env := newTestEnv(t)
	env.guild.addMember("user-1", "alice")
	env.guild.failAddRole["user-1/role-temp"] = fmt.Errorf("discord is down")

	_, err := env.svc.GrantTempRole(context.Background(), "user-1", "role-temp", 7)
	require.Error(t, err)

	_, ok := env.store.GetTempRole("user-1", "role-temp")
	assert.False(t, ok)
	assert.Equal(t, 0, env.notifier.announceCount())
}

func TestExtendTempRole(t *testing.T) {
	env := newTestEnv(t)
	env.guild.addMember("user-1", "alice")

	entry, err := env.svc.GrantTempRole(context.Background(), "user-1", "role-temp", 7)
	require.NoError(t, err)

	extended, err := env.svc.ExtendTempRole(context.Background(), "user-1", "role-temp", 3)
	require.NoError(t, err)
	assert.Equal(t, entry.ExpiresAt.Add(3*24*time.Hour), extended.ExpiresAt)

	_, err = env.svc.ExtendTempRole(context.Background(), "user-1", "role-other", 3)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRevokeTempRoleIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.guild.addMember("user-1", "alice")

	_, err := env.svc.GrantTempRole(context.Background(), "user-1", "role-temp", 7)
	require.NoError(t, err)

	removed, err := env.svc.RevokeTempRole(context.Background(), "user-1", "role-temp")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, env.guild.hasRole("user-1", "role-temp"))

	removed, err = env.svc.RevokeTempRole(context.Background(), "user-1", "role-temp")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRevokeTempRoleAfterMemberLeft(t *testing.T) {
	env := newTestEnv(t)
	env.guild.addMember("user-1", "alice")

	_, err := env.svc.GrantTempRole(context.Background(), "user-1", "role-temp", 7)
	require.NoError(t, err)
	env.guild.removeMember("user-1")

	removed, err := env.svc.RevokeTempRole(context.Background(), "user-1", "role-temp")
	require.NoError(t, err)
	assert.True(t, removed)
}

package reconcile_test

import (
	"context"
	"sync"
	"testing"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cohortly/memberd/internal/reconcile"
	"github.com/cohortly/memberd/internal/tier"
)

const (
	guestRole  = snowflake.ID(10)
	activeRole = snowflake.ID(20)

	welcomeChannel   = snowflake.ID(500)
	downgradeChannel = snowflake.ID(501)
)

func testConfig() *tier.Config {
	return &tier.Config{
		Tiers: []tier.Tier{
			{
				Name:    "guest",
				RoleID:  guestRole,
				Welcome: tier.WelcomeMessage{ChannelID: welcomeChannel, Template: "Welcome USER_MENTION"},
			},
			{
				Name:    "active",
				RoleID:  activeRole,
				Welcome: tier.WelcomeMessage{ChannelID: welcomeChannel, Template: "Congrats USER_MENTION"},
			},
		},
		Downgrade: tier.DowngradeMessage{
			ChannelID: downgradeChannel,
			Template:  "USERNAME: PREVIOUS_ROLE -> CURRENT_ROLE",
		},
	}
}

type posted struct {
	channelID snowflake.ID
	content   string
}

// fakePlatform tracks role membership in memory and records every
// mutation and message for assertion.
type fakePlatform struct {
	mu sync.Mutex

	roles    map[snowflake.ID]map[snowflake.ID]struct{} // roleID -> members
	departed map[snowflake.ID]struct{}

	added    []string
	removed  []string
	messages []posted
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		roles: map[snowflake.ID]map[snowflake.ID]struct{}{
			guestRole:  {},
			activeRole: {},
		},
		departed: map[snowflake.ID]struct{}{},
	}
}

func (f *fakePlatform) grant(userID, roleID snowflake.ID) {
	f.roles[roleID][userID] = struct{}{}
}

func (f *fakePlatform) RoleMembers(_ context.Context, roleID snowflake.ID) (map[snowflake.ID]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := make(map[snowflake.ID]struct{}, len(f.roles[roleID]))
	for userID := range f.roles[roleID] {
		members[userID] = struct{}{}
	}
	return members, nil
}

func (f *fakePlatform) IsMember(_ context.Context, userID snowflake.ID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, gone := f.departed[userID]
	return !gone, nil
}

func (f *fakePlatform) MemberRoles(_ context.Context, userID snowflake.ID) ([]snowflake.ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var held []snowflake.ID
	for roleID, members := range f.roles {
		if _, ok := members[userID]; ok {
			held = append(held, roleID)
		}
	}
	return held, nil
}

func (f *fakePlatform) AddRole(_ context.Context, userID, roleID snowflake.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[roleID][userID] = struct{}{}
	f.added = append(f.added, userID.String()+"+"+roleID.String())
	return nil
}

func (f *fakePlatform) RemoveRole(_ context.Context, userID, roleID snowflake.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.roles[roleID], userID)
	f.removed = append(f.removed, userID.String()+"-"+roleID.String())
	return nil
}

func (f *fakePlatform) PostMessage(_ context.Context, channelID snowflake.ID, content string, _ []snowflake.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, posted{channelID: channelID, content: content})
	return nil
}

func (f *fakePlatform) Username(_ context.Context, userID snowflake.ID) string {
	return "user" + userID.String()
}

func (f *fakePlatform) RoleName(_ context.Context, roleID snowflake.ID) string {
	switch roleID {
	case guestRole:
		return "Guest"
	case activeRole:
		return "Active"
	default:
		return roleID.String()
	}
}

func (f *fakePlatform) holds(userID, roleID snowflake.ID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.roles[roleID][userID]
	return ok
}

func TestReconcile_AddAndRemove(t *testing.T) {
	t.Parallel()

	platform := newFakePlatform()
	platform.grant(2, activeRole)

	r := reconcile.New(platform, testConfig(), zap.NewNop())

	// User 1 should now be active; user 2 no longer qualifies for anything.
	desired := []tier.UserSet{
		{},
		{snowflake.ID(1): {}},
	}
	report, err := r.Reconcile(t.Context(), desired)
	require.NoError(t, err)

	assert.True(t, platform.holds(1, activeRole))
	assert.False(t, platform.holds(2, activeRole))

	assert.Equal(t, tier.UserSet{snowflake.ID(2): {}}, report.Previous)
	assert.Equal(t, tier.UserSet{snowflake.ID(2): {}}, report.Removed)
	assert.Empty(t, report.Departed)

	require.Len(t, platform.messages, 2)
	assert.Equal(t, posted{welcomeChannel, "Congrats <@1>"}, platform.messages[0])
	assert.Equal(t, posted{downgradeChannel, "user2: Active -> (no role)"}, platform.messages[1])
}

func TestReconcile_UpgradeSwapsRole(t *testing.T) {
	t.Parallel()

	platform := newFakePlatform()
	platform.grant(1, guestRole)

	r := reconcile.New(platform, testConfig(), zap.NewNop())

	desired := []tier.UserSet{
		{},
		{snowflake.ID(1): {}},
	}
	_, err := r.Reconcile(t.Context(), desired)
	require.NoError(t, err)

	assert.False(t, platform.holds(1, guestRole))
	assert.True(t, platform.holds(1, activeRole))

	require.Len(t, platform.messages, 1)
	assert.Equal(t, posted{welcomeChannel, "Congrats <@1>"}, platform.messages[0])
}

func TestReconcile_DowngradeNotifiesWithRoleNames(t *testing.T) {
	t.Parallel()

	platform := newFakePlatform()
	platform.grant(1, activeRole)

	r := reconcile.New(platform, testConfig(), zap.NewNop())

	desired := []tier.UserSet{
		{snowflake.ID(1): {}},
		{},
	}
	_, err := r.Reconcile(t.Context(), desired)
	require.NoError(t, err)

	assert.True(t, platform.holds(1, guestRole))
	assert.False(t, platform.holds(1, activeRole))

	require.Len(t, platform.messages, 1)
	assert.Equal(t, posted{downgradeChannel, "user1: Active -> Guest"}, platform.messages[0])
}

func TestReconcile_DepartedUsersAreSkipped(t *testing.T) {
	t.Parallel()

	platform := newFakePlatform()
	platform.departed[snowflake.ID(1)] = struct{}{}

	r := reconcile.New(platform, testConfig(), zap.NewNop())

	desired := []tier.UserSet{
		{},
		{snowflake.ID(1): {}},
	}
	report, err := r.Reconcile(t.Context(), desired)
	require.NoError(t, err)

	assert.False(t, platform.holds(1, activeRole))
	assert.Equal(t, tier.UserSet{snowflake.ID(1): {}}, report.Departed)
	assert.Empty(t, platform.messages)
}

func TestReconcile_AlreadyCorrectIsANoOp(t *testing.T) {
	t.Parallel()

	platform := newFakePlatform()
	platform.grant(1, activeRole)

	r := reconcile.New(platform, testConfig(), zap.NewNop())

	desired := []tier.UserSet{
		{},
		{snowflake.ID(1): {}},
	}
	_, err := r.Reconcile(t.Context(), desired)
	require.NoError(t, err)

	assert.Empty(t, platform.added)
	assert.Empty(t, platform.removed)
	assert.Empty(t, platform.messages)
}

func TestAssignTier_MultipleHeldRolesAllRemoved(t *testing.T) {
	t.Parallel()

	platform := newFakePlatform()
	platform.grant(1, guestRole)
	platform.grant(1, activeRole)

	cfg := testConfig()
	r := reconcile.New(platform, cfg, zap.NewNop())

	err := r.AssignTier(t.Context(), cfg.Tiers[0], tier.UserSet{snowflake.ID(1): {}})
	require.NoError(t, err)

	assert.True(t, platform.holds(1, guestRole))
	assert.False(t, platform.holds(1, activeRole))
}

func TestReconcile_DesiredLengthMismatch(t *testing.T) {
	t.Parallel()

	r := reconcile.New(newFakePlatform(), testConfig(), zap.NewNop())
	_, err := r.Reconcile(t.Context(), []tier.UserSet{{}})
	assert.Error(t, err)
}

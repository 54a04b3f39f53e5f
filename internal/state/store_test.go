package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ITZ-Steve3153/New-bot/internal/policy"
)

func newTestStore(t *testing.T) (*Store, Options) {
	t.Helper()
	dir := t.TempDir()
	opts := Options{
		TriggerPath:    filepath.Join(dir, "config.json"),
		PunishmentPath: filepath.Join(dir, "punishment_data.json"),
	}
	store := NewStore(opts)
	require.NoError(t, store.Load())
	return store, opts
}

func TestStoreLoadMissingFilesYieldsDefaults(t *testing.T) {
	store, _ := newTestStore(t)
	snap := store.Snapshot()
	assert.Empty(t, snap.Trigger.TriggerTags)
	assert.Empty(t, snap.Trigger.RemovalTags)
	assert.Equal(t, policy.DefaultSweepInterval, snap.Trigger.SweepInterval)
	assert.Empty(t, snap.Rules)
}

func TestStoreRoundTrip(t *testing.T) {
	store, opts := newTestStore(t)
	started := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	_, err := store.AddTriggerTag("100")
	require.NoError(t, err)
	_, err = store.AddRemovalTag("200")
	require.NoError(t, err)
	require.NoError(t, store.SetSweepInterval(10*time.Minute))
	require.NoError(t, store.PutRule(policy.PunishmentRule{Tag: "300", GuildID: "g1", Action: policy.ActionKick, Delay: "1h"}))
	require.NoError(t, store.PutRule(policy.PunishmentRule{Tag: "301", Action: policy.ActionMute, Delay: "30d"}))
	_, err = store.StartTimer("300", "u1", started)
	require.NoError(t, err)

	reloaded := NewStore(opts)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, store.Snapshot(), reloaded.Snapshot())

	rule, ok := reloaded.Rule("300")
	require.True(t, ok)
	assert.Equal(t, started, rule.AssignedUsers["u1"])
	assert.Equal(t, policy.GuildID("g1"), rule.GuildID)
	assert.Equal(t, 1, reloaded.ActiveTimers())
}

func TestStoreLoadsLegacyDocuments(t *testing.T) {
	dir := t.TempDir()
	trigger := filepath.Join(dir, "config.json")
	punishment := filepath.Join(dir, "punishment_data.json")
	require.NoError(t, os.WriteFile(trigger, []byte(`{
  "trigger_roles": [111111111111111111],
  "roles_to_remove": [222222222222222222, 333],
  "check_interval": 15
}`), 0o600))
	require.NoError(t, os.WriteFile(punishment, []byte(`{
  "punishment_roles": {
    "444": {
      "action": "ban",
      "delay": "12h",
      "assigned_users": {"555": "2024-01-02T03:04:05.123456"}
    }
  }
}`), 0o600))

	store := NewStore(Options{TriggerPath: trigger, PunishmentPath: punishment})
	require.NoError(t, store.Load())

	tp := store.TriggerPolicy()
	assert.Equal(t, []policy.TagID{"111111111111111111"}, tp.TriggerTags)
	assert.Equal(t, []policy.TagID{"222222222222222222", "333"}, tp.RemovalTags)
	assert.Equal(t, 15*time.Minute, tp.SweepInterval)

	rule, ok := store.Rule("444")
	require.True(t, ok)
	assert.Equal(t, policy.ActionBan, rule.Action)
	assert.Empty(t, rule.GuildID)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 123456000, time.UTC), rule.AssignedUsers["555"])
}

func TestStoreCorruptFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	trigger := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(trigger, []byte(`{not json`), 0o600))

	store := NewStore(Options{TriggerPath: trigger, PunishmentPath: filepath.Join(dir, "p.json")})
	err := store.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config.json")
	assert.Equal(t, policy.DefaultSweepInterval, store.TriggerPolicy().SweepInterval)
	assert.Empty(t, store.Rules())
}

func TestStoreTagSetMutationsReportChange(t *testing.T) {
	store, _ := newTestStore(t)

	changed, err := store.AddTriggerTag("1")
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = store.AddTriggerTag("1")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = store.RemoveRemovalTag("9")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = store.RemoveTriggerTag("1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, store.TriggerPolicy().TriggerTags)

	assert.Error(t, store.SetSweepInterval(30*time.Second))
}

func TestStoreStartTimerIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.PutRule(policy.PunishmentRule{Tag: "p", Action: policy.ActionKick, Delay: "1h"}))

	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	started, err := store.StartTimer("p", "m", first)
	require.NoError(t, err)
	assert.True(t, started)

	started, err = store.StartTimer("p", "m", first.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, started)

	rule, _ := store.Rule("p")
	assert.Equal(t, first, rule.AssignedUsers["m"])

	started, err = store.StartTimer("unknown", "m", first)
	require.NoError(t, err)
	assert.False(t, started)
}

func TestStoreRetireTimerIsConditional(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.PutRule(policy.PunishmentRule{Tag: "p", Action: policy.ActionBan, Delay: "1h"}))
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.StartTimer("p", "m", first)
	require.NoError(t, err)

	retired, err := store.RetireTimer("p", "m", first.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, retired)
	assert.Equal(t, 1, store.ActiveTimers())

	retired, err = store.RetireTimer("p", "m", first)
	require.NoError(t, err)
	assert.True(t, retired)
	assert.Zero(t, store.ActiveTimers())

	_, err = store.StartTimer("p", "m", first)
	require.NoError(t, err)
	retired, err = store.RetireTimer("p", "m", time.Time{})
	require.NoError(t, err)
	assert.True(t, retired)
}

func TestStorePutRuleClearsTimers(t *testing.T) {
	store, _ := newTestStore(t)
	rule := policy.PunishmentRule{Tag: "p", Action: policy.ActionKick, Delay: "1h"}
	require.NoError(t, store.PutRule(rule))
	_, err := store.StartTimer("p", "m", time.Now())
	require.NoError(t, err)

	rule.Action = policy.ActionBan
	require.NoError(t, store.PutRule(rule))
	got, ok := store.Rule("p")
	require.True(t, ok)
	assert.Equal(t, policy.ActionBan, got.Action)
	assert.Empty(t, got.AssignedUsers)

	deleted, err := store.DeleteRule("p")
	require.NoError(t, err)
	assert.True(t, deleted)
	_, ok = store.Rule("p")
	assert.False(t, ok)
}

func TestStoreFailedWriteIsFlushedLater(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")

	var failures int
	store := NewStore(Options{
		TriggerPath:    filepath.Join(blocker, "config.json"),
		PunishmentPath: filepath.Join(dir, "p.json"),
		LockTimeout:    50 * time.Millisecond,
		OnPersistError: func(error) { failures++ },
	})
	require.NoError(t, store.Load())
	// A regular file where the trigger document's directory should be.
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := store.AddTriggerTag("1")
	require.Error(t, err)
	assert.True(t, store.Dirty())
	assert.Equal(t, 1, failures)
	assert.Equal(t, []policy.TagID{"1"}, store.TriggerPolicy().TriggerTags)

	require.NoError(t, os.Remove(blocker))
	require.NoError(t, store.Flush())
	assert.False(t, store.Dirty())
	_, err = os.Stat(filepath.Join(blocker, "config.json"))
	assert.NoError(t, err)
}

func TestStoreRecentCountFor(t *testing.T) {
	store := NewStore(Options{HistoryRetention: time.Hour})
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.RecordAction("guild:1", now.Add(-30*time.Minute))
	store.RecordAction("guild:1", now.Add(-time.Minute))
	store.RecordAction("guild:2", now)

	assert.Equal(t, 1, store.RecentCountFor("guild:1", 10*time.Minute, now))
	assert.Equal(t, 2, store.RecentCountFor("guild:1", time.Hour, now))
	assert.Equal(t, 3, store.RecentCount(time.Hour, now))
	assert.Zero(t, store.RecentCountFor("guild:3", time.Hour, now))
}

func TestStoreLoadReportsUnreadableDocument(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	store := NewStore(Options{TriggerPath: filepath.Join(blocker, "config.json")})
	assert.ErrorContains(t, store.Load(), "state store: read")
	assert.Equal(t, policy.DefaultSweepInterval, store.TriggerPolicy().Interval())
}

func TestStoreArmedRule(t *testing.T) {
	store := NewStore(Options{})
	require.NoError(t, store.PutRule(policy.PunishmentRule{Tag: "p", Action: policy.ActionKick, Delay: "1h"}))
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.StartTimer("p", "m1", at)
	require.NoError(t, err)

	rule, ok := store.ArmedRule("p", "m1", at)
	require.True(t, ok)
	assert.Equal(t, policy.ActionKick, rule.Action)

	_, ok = store.ArmedRule("p", "m1", at.Add(time.Second))
	assert.False(t, ok)
	_, ok = store.ArmedRule("p", "m2", at)
	assert.False(t, ok)

	require.NoError(t, store.PutRule(policy.PunishmentRule{Tag: "p", Action: policy.ActionBan, Delay: "1h"}))
	_, ok = store.ArmedRule("p", "m1", at)
	assert.False(t, ok)
}

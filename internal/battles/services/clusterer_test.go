package services

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battlescope/internal/battles/models"
	killmailModels "battlescope/internal/killmails/models"
	rulesetModels "battlescope/internal/rulesets/models"
	"battlescope/pkg/eventbus"
	"battlescope/pkg/universe"
)

type fakeKillmailSource struct {
	events []*killmailModels.KillmailEvent
}

func newFakeKillmails(events ...killmailModels.KillmailEvent) *fakeKillmailSource {
	f := &fakeKillmailSource{}
	for i := range events {
		e := events[i]
		f.events = append(f.events, &e)
	}
	return f
}

func (f *fakeKillmailSource) byID(id int64) *killmailModels.KillmailEvent {
	for _, e := range f.events {
		if e.KillmailID == id {
			return e
		}
	}
	return nil
}

func (f *fakeKillmailSource) FetchUnprocessed(ctx context.Context, limit int64, maxOccurredAt time.Time) ([]killmailModels.KillmailEvent, error) {
	var out []killmailModels.KillmailEvent
	for _, e := range f.events {
		if e.ProcessedAt == nil && !e.OccurredAt.After(maxOccurredAt) {
			out = append(out, *e)
		}
	}
	sortEvents(out)
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeKillmailSource) FetchRecentForBackfill(ctx context.Context, systemID int64, windowStart, windowEnd time.Time) ([]killmailModels.KillmailEvent, error) {
	var out []killmailModels.KillmailEvent
	for _, e := range f.events {
		if e.SystemID != systemID {
			continue
		}
		if e.OccurredAt.Before(windowStart) || e.OccurredAt.After(windowEnd) {
			continue
		}
		out = append(out, *e)
	}
	sortEvents(out)
	return out, nil
}

func (f *fakeKillmailSource) MarkProcessed(ctx context.Context, killmailIDs []int64, battleID *string) error {
	now := time.Now().UTC()
	for _, id := range killmailIDs {
		if e := f.byID(id); e != nil && e.ProcessedAt == nil {
			e.ProcessedAt = &now
			e.BattleID = battleID
		}
	}
	return nil
}

func sortEvents(events []killmailModels.KillmailEvent) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].OccurredAt.Before(events[j].OccurredAt)
		}
		return events[i].KillmailID < events[j].KillmailID
	})
}

type fakeBattleStore struct {
	battles      map[string]*models.Battle
	members      map[string][]MemberPlan
	participants map[string][]ParticipantPlan
	createErr    error
}

func newFakeBattles() *fakeBattleStore {
	return &fakeBattleStore{
		battles:      make(map[string]*models.Battle),
		members:      make(map[string][]MemberPlan),
		participants: make(map[string][]ParticipantPlan),
	}
}

func (f *fakeBattleStore) seed(b models.Battle, members ...MemberPlan) {
	f.battles[b.BattleID] = &b
	f.members[b.BattleID] = append([]MemberPlan{}, members...)
}

func (f *fakeBattleStore) one(t *testing.T) *models.Battle {
	t.Helper()
	require.Len(t, f.battles, 1)
	for _, b := range f.battles {
		return b
	}
	return nil
}

func (f *fakeBattleStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (f *fakeBattleStore) FindCandidates(ctx context.Context, systemID int64, occurredAt time.Time, slack time.Duration) ([]models.Battle, error) {
	var out []models.Battle
	for _, b := range f.battles {
		if b.SystemID != systemID || b.Deleted {
			continue
		}
		if b.StartTime.After(occurredAt.Add(slack)) || b.EndTime.Before(occurredAt.Add(-slack)) {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.After(out[j].EndTime) })
	return out, nil
}

func (f *fakeBattleStore) GetByBattleID(ctx context.Context, battleID string) (*models.Battle, error) {
	b, ok := f.battles[battleID]
	if !ok {
		return nil, nil
	}
	copied := *b
	return &copied, nil
}

func (f *fakeBattleStore) CreateBattle(ctx context.Context, plan *BattlePlan) error {
	if f.createErr != nil {
		return f.createErr
	}
	now := time.Now().UTC()
	f.battles[plan.BattleID] = &models.Battle{
		BattleID:          plan.BattleID,
		SystemID:          plan.SystemID,
		SpaceType:         plan.SpaceType,
		SecurityType:      plan.SecurityType,
		StartTime:         plan.StartTime,
		EndTime:           plan.EndTime,
		TotalKills:        plan.TotalKills,
		TotalISKDestroyed: plan.TotalISKDestroyed.String(),
		ZKillRelatedUrl:   plan.ZKillRelatedUrl,
		AllianceIDs:       plan.AllianceIDs,
		CorpIDs:           plan.CorpIDs,
		CharacterIDs:      plan.CharacterIDs,
		Sides:             plan.Sides,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	f.members[plan.BattleID] = append([]MemberPlan{}, plan.Members...)
	f.participants[plan.BattleID] = append([]ParticipantPlan{}, plan.Participants...)
	return nil
}

func (f *fakeBattleStore) AppendKillmails(ctx context.Context, battleID string, members []MemberPlan, participants []ParticipantPlan, agg AggregateUpdate) error {
	b, ok := f.battles[battleID]
	if !ok {
		return errors.New("battle not found")
	}

	for _, m := range members {
		exists := false
		for _, have := range f.members[battleID] {
			if have.KillmailID == m.KillmailID {
				exists = true
				break
			}
		}
		if !exists {
			f.members[battleID] = append(f.members[battleID], m)
		}
	}

	for _, p := range participants {
		updated := false
		for i := range f.participants[battleID] {
			have := &f.participants[battleID][i]
			if have.CharacterID != p.CharacterID {
				continue
			}
			if p.AllianceID != nil {
				have.AllianceID = p.AllianceID
			}
			if p.CorpID != nil {
				have.CorpID = p.CorpID
			}
			if p.ShipTypeID != nil {
				have.ShipTypeID = p.ShipTypeID
			}
			if p.IsVictim {
				have.IsVictim = true
			}
			have.LastSeenAt = p.LastSeenAt
			updated = true
			break
		}
		if !updated {
			f.participants[battleID] = append(f.participants[battleID], p)
		}
	}

	b.StartTime = agg.StartTime
	b.EndTime = agg.EndTime
	b.TotalKills = agg.TotalKills
	b.TotalISKDestroyed = agg.TotalISKDestroyed
	b.ZKillRelatedUrl = agg.ZKillRelatedUrl
	b.AllianceIDs = agg.AllianceIDs
	b.CorpIDs = agg.CorpIDs
	b.CharacterIDs = agg.CharacterIDs
	b.UpdatedAt = time.Now().UTC()
	return nil
}

type fakeRulesets struct {
	ruleset *rulesetModels.Ruleset
}

func (f *fakeRulesets) Active() *rulesetModels.Ruleset {
	return f.ruleset
}

type fakeLocker struct {
	denied   map[string]bool
	acquires []string
	releases []string
}

func (f *fakeLocker) Acquire(ctx context.Context, battleID string) (bool, error) {
	f.acquires = append(f.acquires, battleID)
	if f.denied[battleID] {
		return false, nil
	}
	return true, nil
}

func (f *fakeLocker) Release(ctx context.Context, battleID string) {
	f.releases = append(f.releases, battleID)
}

type publishedEvent struct {
	event string
	key   string
}

type fakeBus struct {
	published []publishedEvent
}

func (f *fakeBus) Publish(ctx context.Context, event, key string, payload interface{}) error {
	f.published = append(f.published, publishedEvent{event: event, key: key})
	return nil
}

func newTestClusterer(t *testing.T, killmails *fakeKillmailSource, battles *fakeBattleStore, ruleset *rulesetModels.Ruleset) (*Clusterer, *fakeLocker, *fakeBus) {
	t.Helper()
	if ruleset == nil {
		ruleset = rulesetModels.DefaultRuleset()
	}
	locker := &fakeLocker{denied: make(map[string]bool)}
	bus := &fakeBus{}
	c := NewClusterer(killmails, battles, &fakeRulesets{ruleset: ruleset}, locker, bus, nil)
	return c, locker, bus
}

func seededBattle(id string, start, end time.Time, kills int64, isk string, alliances []int64) models.Battle {
	return models.Battle{
		BattleID:          id,
		SystemID:          testSystem,
		SpaceType:         universe.SpaceKnown,
		SecurityType:      universe.SecurityNullsec,
		StartTime:         start,
		EndTime:           end,
		TotalKills:        kills,
		TotalISKDestroyed: isk,
		AllianceIDs:       alliances,
	}
}

func TestRunBatchCreatesBattle(t *testing.T) {
	killmails := newFakeKillmails(
		km(1, at(0), i64(allianceA), i64(allianceB)),
		km(2, at(5), i64(allianceA), i64(allianceB)),
	)
	battles := newFakeBattles()
	c, _, bus := newTestClusterer(t, killmails, battles, nil)

	stats, err := c.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchStats{Battles: 1, Processed: 2}, stats)

	battle := battles.one(t)
	assert.Equal(t, at(0), battle.StartTime)
	assert.Equal(t, at(5), battle.EndTime)
	assert.Equal(t, int64(2), battle.TotalKills)
	assert.Equal(t, "2000000", battle.TotalISKDestroyed)
	assert.Equal(t, []int64{allianceA, allianceB}, battle.AllianceIDs)
	assert.Len(t, battles.members[battle.BattleID], 2)
	assert.NotEmpty(t, battles.participants[battle.BattleID])

	for _, id := range []int64{1, 2} {
		e := killmails.byID(id)
		require.NotNil(t, e.ProcessedAt)
		require.NotNil(t, e.BattleID)
		assert.Equal(t, battle.BattleID, *e.BattleID)
	}

	require.Len(t, bus.published, 1)
	assert.Equal(t, eventbus.EventBattleDetected, bus.published[0].event)
	assert.Equal(t, battle.BattleID, bus.published[0].key)
}

func TestRunBatchIgnoresBelowMinKills(t *testing.T) {
	killmails := newFakeKillmails(km(1, at(0), i64(allianceA), i64(allianceB)))
	battles := newFakeBattles()
	c, _, bus := newTestClusterer(t, killmails, battles, nil)

	stats, err := c.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchStats{Processed: 1, Ignored: 1}, stats)

	e := killmails.byID(1)
	require.NotNil(t, e.ProcessedAt)
	assert.Nil(t, e.BattleID)
	assert.Empty(t, battles.battles)
	assert.Empty(t, bus.published)
}

func TestRunBatchHonoursProcessingDelay(t *testing.T) {
	// A killmail fresher than the cutoff keeps its grace period
	killmails := newFakeKillmails(km(1, time.Now().UTC(), i64(allianceA), i64(allianceB)))
	battles := newFakeBattles()
	c, _, _ := newTestClusterer(t, killmails, battles, nil)

	stats, err := c.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchStats{}, stats)
	assert.Nil(t, killmails.byID(1).ProcessedAt)
}

func TestRunBatchRetroactiveAttribution(t *testing.T) {
	battles := newFakeBattles()
	battles.seed(
		seededBattle("battle-1", at(0), at(5), 2, "2000000", []int64{allianceA, allianceB}),
		MemberPlan{KillmailID: 1, OccurredAt: at(0)},
		MemberPlan{KillmailID: 2, OccurredAt: at(5)},
	)
	killmails := newFakeKillmails(km(3, at(2), i64(allianceC), i64(allianceD)))
	c, locker, bus := newTestClusterer(t, killmails, battles, nil)

	stats, err := c.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchStats{Processed: 1, Attributed: 1}, stats)

	battle := battles.battles["battle-1"]
	assert.Equal(t, int64(3), battle.TotalKills)
	assert.Equal(t, "3000000", battle.TotalISKDestroyed)
	assert.Equal(t, at(0), battle.StartTime)
	assert.Equal(t, at(5), battle.EndTime)
	assert.Equal(t, "https://zkillboard.com/related/30000142/202405011200/", battle.ZKillRelatedUrl)
	assert.Equal(t, []int64{allianceA, allianceB, allianceC, allianceD}, battle.AllianceIDs)

	memberIDs := make([]int64, 0, 3)
	for _, m := range battles.members["battle-1"] {
		memberIDs = append(memberIDs, m.KillmailID)
	}
	assert.Contains(t, memberIDs, int64(3))
	assert.Len(t, memberIDs, 3)

	found := false
	for _, p := range battles.participants["battle-1"] {
		if p.CharacterID == 3001 {
			found = true
			assert.True(t, p.IsVictim)
		}
	}
	assert.True(t, found, "attributed killmail's victim should be upserted")

	e := killmails.byID(3)
	require.NotNil(t, e.ProcessedAt)
	require.NotNil(t, e.BattleID)
	assert.Equal(t, "battle-1", *e.BattleID)

	assert.Equal(t, []string{"battle-1"}, locker.acquires)
	assert.Equal(t, []string{"battle-1"}, locker.releases)

	require.Len(t, bus.published, 1)
	assert.Equal(t, eventbus.EventBattleUpdated, bus.published[0].event)
	assert.Equal(t, "battle-1", bus.published[0].key)
}

func TestRunBatchAttributionPrefersNearestEndTime(t *testing.T) {
	battles := newFakeBattles()
	battles.seed(seededBattle("battle-early", at(0), at(10), 2, "1000", nil))
	battles.seed(seededBattle("battle-late", at(15), at(20), 2, "1000", nil))
	killmails := newFakeKillmails(km(9, at(12), i64(allianceA), i64(allianceB)))
	c, _, _ := newTestClusterer(t, killmails, battles, nil)

	stats, err := c.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchStats{Processed: 1, Attributed: 1}, stats)

	e := killmails.byID(9)
	require.NotNil(t, e.BattleID)
	assert.Equal(t, "battle-early", *e.BattleID)
	assert.Equal(t, int64(3), battles.battles["battle-early"].TotalKills)
	assert.Equal(t, int64(2), battles.battles["battle-late"].TotalKills)
}

func TestRunBatchAttributionRespectsWindowCeiling(t *testing.T) {
	battles := newFakeBattles()
	battles.seed(seededBattle("battle-long", at(0), at(28), 5, "5000", nil))
	killmails := newFakeKillmails(km(9, at(32), i64(allianceA), i64(allianceB)))
	c, locker, _ := newTestClusterer(t, killmails, battles, nil)

	stats, err := c.RunBatch(context.Background())
	require.NoError(t, err)

	// Inside the gap slack but the combined span would exceed the window,
	// so the killmail falls through to the clustering pass as a singleton
	assert.Equal(t, BatchStats{Processed: 1, Ignored: 1}, stats)
	assert.Empty(t, locker.acquires)
	assert.Equal(t, int64(5), battles.battles["battle-long"].TotalKills)

	e := killmails.byID(9)
	require.NotNil(t, e.ProcessedAt)
	assert.Nil(t, e.BattleID)
}

func TestRunBatchLockContentionDefersKillmail(t *testing.T) {
	battles := newFakeBattles()
	battles.seed(seededBattle("battle-locked", at(0), at(5), 2, "2000", nil))
	killmails := newFakeKillmails(km(7, at(7), i64(allianceA), i64(allianceB)))
	c, locker, bus := newTestClusterer(t, killmails, battles, nil)
	locker.denied["battle-locked"] = true

	stats, err := c.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchStats{}, stats)
	assert.Nil(t, killmails.byID(7).ProcessedAt)
	assert.Equal(t, int64(2), battles.battles["battle-locked"].TotalKills)
	assert.Empty(t, bus.published)

	// Next tick the lock is free and the killmail attaches
	locker.denied["battle-locked"] = false
	stats, err = c.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchStats{Processed: 1, Attributed: 1}, stats)
	require.NotNil(t, killmails.byID(7).BattleID)
	assert.Equal(t, "battle-locked", *killmails.byID(7).BattleID)
}

func TestRunBatchQuarantinesUnreadableAggregate(t *testing.T) {
	battles := newFakeBattles()
	battles.seed(seededBattle("battle-bad", at(0), at(5), 2, "not a number", nil))
	killmails := newFakeKillmails(km(7, at(7), i64(allianceA), i64(allianceB)))
	c, locker, bus := newTestClusterer(t, killmails, battles, nil)

	stats, err := c.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchStats{Processed: 1, Quarantined: 1}, stats)

	e := killmails.byID(7)
	require.NotNil(t, e.ProcessedAt)
	assert.Nil(t, e.BattleID)
	assert.Equal(t, int64(2), battles.battles["battle-bad"].TotalKills)
	assert.Equal(t, []string{"battle-bad"}, locker.releases)
	assert.Empty(t, bus.published)
}

func TestRunBatchRulesetMinPilotsFilters(t *testing.T) {
	ruleset := rulesetModels.DefaultRuleset()
	ruleset.MinPilots = 3

	killmails := newFakeKillmails(
		km(1, at(0), i64(allianceA), i64(allianceB)),
		km(2, at(5), i64(allianceA), i64(allianceB)),
	)
	battles := newFakeBattles()
	c, _, bus := newTestClusterer(t, killmails, battles, ruleset)

	stats, err := c.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchStats{Processed: 2, Ignored: 2}, stats)
	assert.Empty(t, battles.battles)
	assert.Empty(t, bus.published)

	for _, id := range []int64{1, 2} {
		e := killmails.byID(id)
		require.NotNil(t, e.ProcessedAt)
		assert.Nil(t, e.BattleID)
	}
}

func TestRunBatchRulesetIgnoreUnlisted(t *testing.T) {
	tests := []struct {
		name        string
		tracked     []int64
		wantBattles int
		wantStats   BatchStats
	}{
		{
			name:        "tracked alliance involved",
			tracked:     []int64{allianceA},
			wantBattles: 1,
			wantStats:   BatchStats{Battles: 1, Processed: 2},
		},
		{
			name:        "no tracked entity involved",
			tracked:     []int64{777},
			wantBattles: 0,
			wantStats:   BatchStats{Processed: 2, Ignored: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ruleset := rulesetModels.DefaultRuleset()
			ruleset.IgnoreUnlisted = true
			ruleset.AllianceIDs = tt.tracked

			killmails := newFakeKillmails(
				km(1, at(0), i64(allianceA), i64(allianceB)),
				km(2, at(5), i64(allianceA), i64(allianceB)),
			)
			battles := newFakeBattles()
			c, _, _ := newTestClusterer(t, killmails, battles, ruleset)

			stats, err := c.RunBatch(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantStats, stats)
			assert.Len(t, battles.battles, tt.wantBattles)
		})
	}
}

func TestRunBatchPullsNeighboursIntoCluster(t *testing.T) {
	t.Setenv("CLUSTERER_BATCH_SIZE", "1")

	killmails := newFakeKillmails(
		km(1, at(0), i64(allianceA), i64(allianceB)),
		km(2, at(5), i64(allianceA), i64(allianceB)),
	)
	battles := newFakeBattles()
	c, _, _ := newTestClusterer(t, killmails, battles, nil)

	// The batch only holds the first killmail; the second joins as an
	// unprocessed neighbour so the cluster forms whole
	stats, err := c.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchStats{Battles: 1, Processed: 2}, stats)

	battle := battles.one(t)
	assert.Equal(t, int64(2), battle.TotalKills)
	for _, id := range []int64{1, 2} {
		e := killmails.byID(id)
		require.NotNil(t, e.BattleID)
		assert.Equal(t, battle.BattleID, *e.BattleID)
	}
}

func TestRunBatchSecondRunIsIdempotent(t *testing.T) {
	killmails := newFakeKillmails(
		km(1, at(0), i64(allianceA), i64(allianceB)),
		km(2, at(5), i64(allianceA), i64(allianceB)),
	)
	battles := newFakeBattles()
	c, _, bus := newTestClusterer(t, killmails, battles, nil)

	stats, err := c.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchStats{Battles: 1, Processed: 2}, stats)

	stats, err = c.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchStats{}, stats)
	assert.Len(t, battles.battles, 1)
	assert.Len(t, bus.published, 1)
}

func TestRunBatchCreateFailurePublishesNothing(t *testing.T) {
	killmails := newFakeKillmails(
		km(1, at(0), i64(allianceA), i64(allianceB)),
		km(2, at(5), i64(allianceA), i64(allianceB)),
	)
	battles := newFakeBattles()
	battles.createErr = errors.New("write failed")
	c, _, bus := newTestClusterer(t, killmails, battles, nil)

	stats, err := c.RunBatch(context.Background())
	require.Error(t, err)
	assert.Equal(t, BatchStats{}, stats)
	assert.Empty(t, bus.published)
	assert.Nil(t, killmails.byID(1).ProcessedAt)
	assert.Nil(t, killmails.byID(2).ProcessedAt)
}

func TestNewClustererClampsDelay(t *testing.T) {
	t.Setenv("PROCESSING_DELAY_MINUTES", "120")
	c := NewClusterer(nil, nil, nil, nil, nil, nil)
	assert.Equal(t, 30, c.Config().ProcessingDelayMinutes)

	t.Setenv("PROCESSING_DELAY_MINUTES", "0")
	c = NewClusterer(nil, nil, nil, nil, nil, nil)
	assert.Equal(t, 1, c.Config().ProcessingDelayMinutes)
}

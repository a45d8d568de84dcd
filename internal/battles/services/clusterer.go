package services

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"battlescope/internal/battles/models"
	killmailModels "battlescope/internal/killmails/models"
	rulesetModels "battlescope/internal/rulesets/models"
	"battlescope/pkg/config"
	"battlescope/pkg/eventbus"
	"battlescope/pkg/universe"
)

// KillmailSource is the slice of the killmail repository the clusterer drives
type KillmailSource interface {
	FetchUnprocessed(ctx context.Context, limit int64, maxOccurredAt time.Time) ([]killmailModels.KillmailEvent, error)
	FetchRecentForBackfill(ctx context.Context, systemID int64, windowStart, windowEnd time.Time) ([]killmailModels.KillmailEvent, error)
	MarkProcessed(ctx context.Context, killmailIDs []int64, battleID *string) error
}

// BattleStore is the slice of the battle repository the clusterer writes
type BattleStore interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	FindCandidates(ctx context.Context, systemID int64, occurredAt time.Time, slack time.Duration) ([]models.Battle, error)
	GetByBattleID(ctx context.Context, battleID string) (*models.Battle, error)
	CreateBattle(ctx context.Context, plan *BattlePlan) error
	AppendKillmails(ctx context.Context, battleID string, members []MemberPlan, participants []ParticipantPlan, agg AggregateUpdate) error
}

// RulesetSource provides the acceptance filter, cached per batch
type RulesetSource interface {
	Active() *rulesetModels.Ruleset
}

// Locker serialises battle extensions across clusterer instances
type Locker interface {
	Acquire(ctx context.Context, battleID string) (bool, error)
	Release(ctx context.Context, battleID string)
}

// EventPublisher emits pipeline events
type EventPublisher interface {
	Publish(ctx context.Context, event, key string, payload interface{}) error
}

// ClustererMetrics tracks clustering throughput across batches
type ClustererMetrics struct {
	Ticks          atomic.Int64
	BattlesCreated atomic.Int64
	Processed      atomic.Int64
	Ignored        atomic.Int64
	Attributed     atomic.Int64
	Quarantined    atomic.Int64
}

// BatchStats is the outcome of one clusterer batch
type BatchStats struct {
	Battles     int
	Processed   int
	Ignored     int
	Attributed  int
	Quarantined int
}

func (s BatchStats) empty() bool {
	return s.Battles == 0 && s.Processed == 0
}

// ClustererConfig is the effective clusterer configuration
type ClustererConfig struct {
	WindowMinutes          int
	GapMaxMinutes          int
	MinKills               int
	ProcessingDelayMinutes int
	BatchSize              int64
	Schedule               string
	AssignSides            bool
}

// BattleDetectedEvent is the battle.detected payload
type BattleDetectedEvent struct {
	BattleID     string    `json:"battle_id"`
	SystemID     int64     `json:"system_id"`
	SecurityType string    `json:"security_type"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	TotalKills   int64     `json:"total_kills"`
	ISKDestroyed string    `json:"isk_destroyed"`
}

// BattleUpdatedEvent is the battle.updated payload
type BattleUpdatedEvent struct {
	BattleID   string `json:"battle_id"`
	KillmailID int64  `json:"killmail_id"`
}

type attributionOutcome int

const (
	attributionNone attributionOutcome = iota
	attributionAttached
	attributionRetry
	attributionQuarantine
)

type extendOutcome int

const (
	extendSkip extendOutcome = iota
	extendDone
	extendQuarantine
)

type pendingEvent struct {
	event   string
	key     string
	payload interface{}
}

// Clusterer periodically pulls unprocessed killmails older than the safety
// delay, attributes late arrivals to existing battles, clusters the rest and
// commits each batch in one transaction. Killmails newer than the cutoff
// keep their grace period and are left for a later batch.
type Clusterer struct {
	killmails  KillmailSource
	battles    BattleStore
	rulesets   RulesetSource
	locks      Locker
	bus        EventPublisher
	classifier *universe.Classifier

	window      time.Duration
	gapMax      time.Duration
	minKills    int
	delay       time.Duration
	batchSize   int64
	schedule    string
	assignSides bool

	cron    *cron.Cron
	mu      sync.Mutex
	started bool
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	metrics  ClustererMetrics
	lastTick atomic.Int64 // unix seconds
}

// NewClusterer creates the clustering driver. Window, gap, thresholds and
// cadence come from the environment.
func NewClusterer(killmails KillmailSource, battles BattleStore, rulesets RulesetSource, locks Locker, bus EventPublisher, classifier *universe.Classifier) *Clusterer {
	window := config.GetIntEnv("BATTLE_WINDOW_MINUTES", 30)
	gapMax := config.GetIntEnv("BATTLE_GAP_MAX_MINUTES", 15)
	minKills := config.GetIntEnv("BATTLE_MIN_KILLS", 2)

	delay := config.GetIntEnv("PROCESSING_DELAY_MINUTES", 5)
	if delay < 1 {
		delay = 1
	}
	if delay > 30 {
		delay = 30
	}

	return &Clusterer{
		killmails:   killmails,
		battles:     battles,
		rulesets:    rulesets,
		locks:       locks,
		bus:         bus,
		classifier:  classifier,
		window:      time.Duration(window) * time.Minute,
		gapMax:      time.Duration(gapMax) * time.Minute,
		minKills:    minKills,
		delay:       time.Duration(delay) * time.Minute,
		batchSize:   int64(config.GetIntEnv("CLUSTERER_BATCH_SIZE", 200)),
		schedule:    config.GetEnv("CLUSTERER_CRON", "*/10 * * * * *"),
		assignSides: config.GetBoolEnv("BATTLES_ASSIGN_SIDES", true),
	}
}

// Start launches the batch cron
func (c *Clusterer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("clusterer already running")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.cron = cron.New(cron.WithSeconds())

	if _, err := c.cron.AddFunc(c.schedule, func() {
		c.tick(c.ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule clusterer: %w", err)
	}

	c.cron.Start()
	c.started = true

	slog.Info("Clusterer started",
		"schedule", c.schedule,
		"window", c.window,
		"gap_max", c.gapMax,
		"min_kills", c.minKills,
		"delay", c.delay,
		"batch_size", c.batchSize)

	return nil
}

// Stop halts the cron and waits for an in-flight batch to finish
func (c *Clusterer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return
	}

	c.cancel()
	cronCtx := c.cron.Stop()

	select {
	case <-cronCtx.Done():
		slog.Info("Clusterer stopped")
	case <-time.After(30 * time.Second):
		slog.Warn("Clusterer stop timeout")
	}

	c.started = false
}

// tick runs one batch unless the previous one is still in flight
func (c *Clusterer) tick(ctx context.Context) {
	if !c.running.CompareAndSwap(false, true) {
		return
	}
	defer c.running.Store(false)

	c.metrics.Ticks.Add(1)
	c.lastTick.Store(time.Now().Unix())

	stats, err := c.RunBatch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("Clusterer batch failed", "error", err)
		return
	}

	if !stats.empty() {
		slog.Info("Clusterer batch committed",
			"battles", stats.Battles,
			"processed", stats.Processed,
			"ignored", stats.Ignored,
			"attributed", stats.Attributed,
			"quarantined", stats.Quarantined)
	}
}

// RunBatch processes one batch of unprocessed killmails: retroactive
// attribution first, then the clustering pass, committed atomically. On
// error nothing is marked processed and the batch retries next tick.
func (c *Clusterer) RunBatch(ctx context.Context) (BatchStats, error) {
	cutoff := time.Now().UTC().Add(-c.delay)

	events, err := c.killmails.FetchUnprocessed(ctx, c.batchSize, cutoff)
	if err != nil {
		return BatchStats{}, fmt.Errorf("failed to fetch unprocessed killmails: %w", err)
	}
	if len(events) == 0 {
		return BatchStats{}, nil
	}

	// Ruleset changes apply from the next batch onwards
	ruleset := c.rulesets.Active()

	var stats BatchStats
	var pending []pendingEvent

	err = c.battles.WithTransaction(ctx, func(txCtx context.Context) error {
		// The transaction may retry the callback; start from scratch
		stats = BatchStats{}
		pending = pending[:0]

		// Killmails attached, quarantined or deferred here must not reach
		// the clustering pass, not even as neighbours
		exclude := make(map[int64]struct{})

		remaining := make([]killmailModels.KillmailEvent, 0, len(events))
		for i := range events {
			e := &events[i]

			outcome, battleID, err := c.attribute(txCtx, e)
			if err != nil {
				return err
			}

			switch outcome {
			case attributionAttached:
				stats.Attributed++
				stats.Processed++
				exclude[e.KillmailID] = struct{}{}
				pending = append(pending, pendingEvent{
					event: eventbus.EventBattleUpdated,
					key:   battleID,
					payload: BattleUpdatedEvent{
						BattleID:   battleID,
						KillmailID: e.KillmailID,
					},
				})
			case attributionQuarantine:
				stats.Quarantined++
				stats.Processed++
				exclude[e.KillmailID] = struct{}{}
			case attributionRetry:
				exclude[e.KillmailID] = struct{}{}
			default:
				remaining = append(remaining, *e)
			}
		}

		if len(remaining) == 0 {
			return nil
		}

		all, err := c.withNeighbours(txCtx, remaining, cutoff, exclude)
		if err != nil {
			return err
		}

		result := Cluster(all, c.engineParams())

		for _, plan := range result.Battles {
			ids := plan.MemberKillmailIDs()

			if !c.passesRuleset(plan, ruleset) {
				if err := c.killmails.MarkProcessed(txCtx, ids, nil); err != nil {
					return fmt.Errorf("failed to mark filtered cluster processed: %w", err)
				}
				stats.Ignored += len(ids)
				stats.Processed += len(ids)
				continue
			}

			if err := c.battles.CreateBattle(txCtx, plan); err != nil {
				return err
			}
			if err := c.killmails.MarkProcessed(txCtx, ids, &plan.BattleID); err != nil {
				return fmt.Errorf("failed to mark battle %s members processed: %w", plan.BattleID, err)
			}

			stats.Battles++
			stats.Processed += len(ids)
			pending = append(pending, pendingEvent{
				event: eventbus.EventBattleDetected,
				key:   plan.BattleID,
				payload: BattleDetectedEvent{
					BattleID:     plan.BattleID,
					SystemID:     plan.SystemID,
					SecurityType: string(plan.SecurityType),
					StartTime:    plan.StartTime,
					EndTime:      plan.EndTime,
					TotalKills:   plan.TotalKills,
					ISKDestroyed: plan.TotalISKDestroyed.String(),
				},
			})
		}

		if len(result.IgnoredKillmailIDs) > 0 {
			if err := c.killmails.MarkProcessed(txCtx, result.IgnoredKillmailIDs, nil); err != nil {
				return fmt.Errorf("failed to mark ignored killmails processed: %w", err)
			}
			stats.Ignored += len(result.IgnoredKillmailIDs)
			stats.Processed += len(result.IgnoredKillmailIDs)
		}

		return nil
	})
	if err != nil {
		return BatchStats{}, err
	}

	// Events go out only after the batch is committed
	for _, p := range pending {
		if err := c.bus.Publish(ctx, p.event, p.key, p.payload); err != nil {
			slog.Warn("Failed to publish battle event",
				"event", p.event,
				"key", p.key,
				"error", err)
		}
	}

	c.metrics.BattlesCreated.Add(int64(stats.Battles))
	c.metrics.Processed.Add(int64(stats.Processed))
	c.metrics.Ignored.Add(int64(stats.Ignored))
	c.metrics.Attributed.Add(int64(stats.Attributed))
	c.metrics.Quarantined.Add(int64(stats.Quarantined))

	return stats, nil
}

// attribute tries to attach one killmail to an existing battle. Candidates
// are tried nearest end time first; the winning battle is extended under its
// advisory lock. Lock contention defers the killmail to the next tick.
func (c *Clusterer) attribute(ctx context.Context, e *killmailModels.KillmailEvent) (attributionOutcome, string, error) {
	candidates, err := c.battles.FindCandidates(ctx, e.SystemID, e.OccurredAt, c.gapMax)
	if err != nil {
		return attributionNone, "", fmt.Errorf("failed to find candidate battles for killmail %d: %w", e.KillmailID, err)
	}
	if len(candidates) == 0 {
		return attributionNone, "", nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		di := absDuration(e.OccurredAt.Sub(candidates[i].EndTime))
		dj := absDuration(e.OccurredAt.Sub(candidates[j].EndTime))
		if di != dj {
			return di < dj
		}
		return candidates[i].BattleID < candidates[j].BattleID
	})

	for i := range candidates {
		cand := &candidates[i]
		if !c.eligibleForBattle(cand, e.OccurredAt) {
			continue
		}

		acquired, err := c.locks.Acquire(ctx, cand.BattleID)
		if err != nil {
			return attributionNone, "", fmt.Errorf("failed to lock battle %s: %w", cand.BattleID, err)
		}
		if !acquired {
			// Another instance is extending this battle; defer rather than
			// race its aggregates
			return attributionRetry, "", nil
		}

		outcome, err := c.extend(ctx, cand.BattleID, e)
		c.locks.Release(ctx, cand.BattleID)
		if err != nil {
			return attributionNone, "", err
		}

		switch outcome {
		case extendDone:
			return attributionAttached, cand.BattleID, nil
		case extendQuarantine:
			slog.Error("Quarantined killmail with unreadable battle aggregate",
				"killmail_id", e.KillmailID,
				"battle_id", cand.BattleID)
			if err := c.killmails.MarkProcessed(ctx, []int64{e.KillmailID}, nil); err != nil {
				return attributionNone, "", fmt.Errorf("failed to quarantine killmail %d: %w", e.KillmailID, err)
			}
			return attributionQuarantine, "", nil
		}
	}

	return attributionNone, "", nil
}

// extend attaches the killmail to the battle, re-reading it under the lock
// so the span and aggregate checks run against fresh state
func (c *Clusterer) extend(ctx context.Context, battleID string, e *killmailModels.KillmailEvent) (extendOutcome, error) {
	fresh, err := c.battles.GetByBattleID(ctx, battleID)
	if err != nil {
		return extendSkip, err
	}
	if fresh == nil || fresh.Deleted {
		return extendSkip, nil
	}
	if !c.eligibleForBattle(fresh, e.OccurredAt) {
		return extendSkip, nil
	}

	total, ok := new(big.Int).SetString(fresh.TotalISKDestroyed, 10)
	if !ok {
		return extendQuarantine, nil
	}
	total.Add(total, ParseISK(e.ISKValue))

	start, end := extendSpan(fresh.StartTime, fresh.EndTime, e.OccurredAt)

	agg := AggregateUpdate{
		StartTime:         start,
		EndTime:           end,
		TotalKills:        fresh.TotalKills + 1,
		TotalISKDestroyed: total.String(),
		ZKillRelatedUrl:   RelatedURL(fresh.SystemID, start),
		AllianceIDs:       mergeIDSets(fresh.AllianceIDs, e.AllianceIDs()),
		CorpIDs:           mergeIDSets(fresh.CorpIDs, e.CorpIDs()),
		CharacterIDs:      mergeIDSets(fresh.CharacterIDs, e.CharacterIDs()),
	}

	members := []MemberPlan{{KillmailID: e.KillmailID, OccurredAt: e.OccurredAt}}
	participants := buildParticipants([]killmailModels.KillmailEvent{*e}, nil)

	if err := c.battles.AppendKillmails(ctx, battleID, members, participants, agg); err != nil {
		return extendSkip, err
	}
	if err := c.killmails.MarkProcessed(ctx, []int64{e.KillmailID}, &battleID); err != nil {
		return extendSkip, err
	}

	return extendDone, nil
}

// eligibleForBattle reports whether the killmail may join the battle: inside
// the gap slack around the current span, and the combined span still inside
// the window
func (c *Clusterer) eligibleForBattle(b *models.Battle, occurred time.Time) bool {
	if occurred.Before(b.StartTime.Add(-c.gapMax)) || occurred.After(b.EndTime.Add(c.gapMax)) {
		return false
	}
	return fitsWindow(b.StartTime, b.EndTime, occurred, c.window)
}

// withNeighbours widens the batch with unprocessed killmails around each
// system's span so clusters straddling the batch boundary form whole. The
// upper bound never crosses the cutoff; newer killmails keep their grace
// period.
func (c *Clusterer) withNeighbours(ctx context.Context, batch []killmailModels.KillmailEvent, cutoff time.Time, exclude map[int64]struct{}) ([]killmailModels.KillmailEvent, error) {
	type span struct {
		min time.Time
		max time.Time
	}
	spans := make(map[int64]*span)
	seen := make(map[int64]struct{}, len(batch))

	for i := range batch {
		e := &batch[i]
		seen[e.KillmailID] = struct{}{}

		s, ok := spans[e.SystemID]
		if !ok {
			spans[e.SystemID] = &span{min: e.OccurredAt, max: e.OccurredAt}
			continue
		}
		if e.OccurredAt.Before(s.min) {
			s.min = e.OccurredAt
		}
		if e.OccurredAt.After(s.max) {
			s.max = e.OccurredAt
		}
	}

	systemIDs := make([]int64, 0, len(spans))
	for systemID := range spans {
		systemIDs = append(systemIDs, systemID)
	}
	sort.Slice(systemIDs, func(i, j int) bool { return systemIDs[i] < systemIDs[j] })

	all := make([]killmailModels.KillmailEvent, len(batch), len(batch)+16)
	copy(all, batch)

	for _, systemID := range systemIDs {
		s := spans[systemID]
		windowStart := s.min.Add(-c.window)
		windowEnd := s.max.Add(c.window)
		if windowEnd.After(cutoff) {
			windowEnd = cutoff
		}

		neighbours, err := c.killmails.FetchRecentForBackfill(ctx, systemID, windowStart, windowEnd)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch neighbours in system %d: %w", systemID, err)
		}

		for i := range neighbours {
			n := &neighbours[i]
			if n.ProcessedAt != nil {
				continue
			}
			if _, ok := seen[n.KillmailID]; ok {
				continue
			}
			if _, ok := exclude[n.KillmailID]; ok {
				continue
			}
			seen[n.KillmailID] = struct{}{}
			all = append(all, *n)
		}
	}

	return all, nil
}

func (c *Clusterer) engineParams() Params {
	params := Params{
		Window:      c.window,
		GapMax:      c.gapMax,
		MinKills:    c.minKills,
		AssignSides: c.assignSides,
	}
	if c.classifier != nil {
		params.Classify = c.classifier.Classify
	}
	return params
}

// passesRuleset applies the acceptance filter to a surviving cluster
func (c *Clusterer) passesRuleset(plan *BattlePlan, ruleset *rulesetModels.Ruleset) bool {
	if ruleset == nil {
		return true
	}
	if plan.TotalKills < int64(ruleset.MinPilots) {
		return false
	}
	if ruleset.IgnoreUnlisted {
		return ruleset.MatchesTracked(plan.AllianceIDs, plan.CorpIDs, plan.SystemID, string(plan.SecurityType))
	}
	return true
}

// Metrics exposes the clusterer counters
func (c *Clusterer) Metrics() *ClustererMetrics {
	return &c.metrics
}

// Config reports the effective clusterer configuration
func (c *Clusterer) Config() ClustererConfig {
	return ClustererConfig{
		WindowMinutes:          int(c.window / time.Minute),
		GapMaxMinutes:          int(c.gapMax / time.Minute),
		MinKills:               c.minKills,
		ProcessingDelayMinutes: int(c.delay / time.Minute),
		BatchSize:              c.batchSize,
		Schedule:               c.schedule,
		AssignSides:            c.assignSides,
	}
}

// IsRunning reports whether the cron is active
func (c *Clusterer) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// LastTick returns the time of the most recent batch, zero when none ran
func (c *Clusterer) LastTick() time.Time {
	sec := c.lastTick.Load()
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// fitsWindow reports whether adding an instant keeps the combined span
// inside the window ceiling
func fitsWindow(start, end, occurred time.Time, window time.Duration) bool {
	newStart, newEnd := extendSpan(start, end, occurred)
	return newEnd.Sub(newStart) <= window
}

// extendSpan widens [start, end] to cover the instant
func extendSpan(start, end, occurred time.Time) (time.Time, time.Time) {
	if occurred.Before(start) {
		start = occurred
	}
	if occurred.After(end) {
		end = occurred
	}
	return start, end
}

// mergeIDSets unions two id sets, keeping ascending order
func mergeIDSets(existing, added []int64) []int64 {
	set := make(map[int64]struct{}, len(existing)+len(added))
	for _, id := range existing {
		set[id] = struct{}{}
	}
	for _, id := range added {
		set[id] = struct{}{}
	}
	return sortedIDs(set)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"time"

	"battlescope/internal/killmails/dto"
	"battlescope/internal/killmails/models"
	"battlescope/pkg/eventbus"
	"battlescope/pkg/universe"
)

// Feed timestamps may run slightly ahead of the local clock; anything
// further out than this is treated as malformed.
const occurredAtSkewTolerance = 5 * time.Minute

// ProcessOutcome classifies what happened to one feed package
type ProcessOutcome int

const (
	OutcomeStored ProcessOutcome = iota
	OutcomeDuplicate
	OutcomeInvalid
	OutcomeFailed
)

// EnrichmentSeeder creates the pending enrichment row for a stored killmail
type EnrichmentSeeder interface {
	SeedPending(ctx context.Context, killmailID int64) error
}

// WorkerNudger wakes the enrichment worker once new rows exist
type WorkerNudger interface {
	Nudge()
}

// EventPublisher emits pipeline events
type EventPublisher interface {
	Publish(ctx context.Context, event, key string, payload interface{}) error
}

// ReceivedEvent is the killmail.received payload
type ReceivedEvent struct {
	KillmailID   int64     `json:"killmail_id"`
	SystemID     int64     `json:"system_id"`
	OccurredAt   time.Time `json:"occurred_at"`
	SecurityType string    `json:"security_type"`
	ISKValue     string    `json:"isk_value"`
	ZKBUrl       string    `json:"zkb_url"`
}

// Processor validates feed packages, converts them to killmail events and
// stores them, seeding enrichment and publishing killmail.received for each
// new row.
type Processor struct {
	repository *Repository
	seeder     EnrichmentSeeder
	nudger     WorkerNudger
	bus        EventPublisher
	universe   *universe.Classifier
}

// NewProcessor creates a new processor instance
func NewProcessor(repository *Repository, seeder EnrichmentSeeder, nudger WorkerNudger, bus EventPublisher, classifier *universe.Classifier) *Processor {
	return &Processor{
		repository: repository,
		seeder:     seeder,
		nudger:     nudger,
		bus:        bus,
		universe:   classifier,
	}
}

// Process runs one feed package through the pipeline
func (p *Processor) Process(ctx context.Context, pkg *dto.RedisQPackage) (ProcessOutcome, error) {
	event, err := BuildEvent(p.universe, pkg, time.Now().UTC())
	if err != nil {
		return OutcomeInvalid, err
	}

	if err := p.repository.Insert(ctx, event); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return OutcomeDuplicate, nil
		}
		return OutcomeFailed, err
	}

	if err := p.seeder.SeedPending(ctx, event.KillmailID); err != nil {
		slog.Error("Failed to seed enrichment row", "error", err, "killmail_id", event.KillmailID)
	} else {
		p.nudger.Nudge()
	}

	received := ReceivedEvent{
		KillmailID:   event.KillmailID,
		SystemID:     event.SystemID,
		OccurredAt:   event.OccurredAt,
		SecurityType: string(event.SecurityType),
		ISKValue:     event.ISKValue,
		ZKBUrl:       event.ZKBUrl,
	}
	if err := p.bus.Publish(ctx, eventbus.EventKillmailReceived, fmt.Sprintf("%d", event.KillmailID), received); err != nil {
		slog.Warn("Failed to publish killmail.received", "error", err, "killmail_id", event.KillmailID)
	}

	return OutcomeStored, nil
}

// BuildEvent validates a feed package and converts it to a killmail event.
// Any violation of the nominal schema is an error; malformed packages never
// reach the store.
func BuildEvent(classifier *universe.Classifier, pkg *dto.RedisQPackage, fetchedAt time.Time) (*models.KillmailEvent, error) {
	if pkg == nil {
		return nil, fmt.Errorf("nil package")
	}
	if pkg.KillID <= 0 {
		return nil, fmt.Errorf("missing kill id")
	}
	if pkg.ZKB.Hash == "" {
		return nil, fmt.Errorf("killmail %d: missing hash", pkg.KillID)
	}
	if len(pkg.Killmail) == 0 {
		return nil, fmt.Errorf("killmail %d: missing body", pkg.KillID)
	}

	var esi dto.ESIKillmail
	if err := json.Unmarshal(pkg.Killmail, &esi); err != nil {
		return nil, fmt.Errorf("killmail %d: malformed body: %w", pkg.KillID, err)
	}

	if esi.KillmailID != pkg.KillID {
		return nil, fmt.Errorf("killmail %d: body id %d does not match package", pkg.KillID, esi.KillmailID)
	}
	if esi.SolarSystemID <= 0 {
		return nil, fmt.Errorf("killmail %d: missing solar system", pkg.KillID)
	}
	if esi.KillmailTime.IsZero() {
		return nil, fmt.Errorf("killmail %d: missing kill time", pkg.KillID)
	}

	occurredAt := esi.KillmailTime.UTC()
	if occurredAt.After(fetchedAt) {
		if occurredAt.Sub(fetchedAt) > occurredAtSkewTolerance {
			return nil, fmt.Errorf("killmail %d: kill time %s is in the future", pkg.KillID, occurredAt.Format(time.RFC3339))
		}
		// Feed clock ran ahead of ours; keep occurred_at <= fetched_at
		fetchedAt = occurredAt
	}

	classification := classifier.Classify(esi.SolarSystemID)

	event := &models.KillmailEvent{
		KillmailID:        pkg.KillID,
		Hash:              pkg.ZKB.Hash,
		SystemID:          esi.SolarSystemID,
		OccurredAt:        occurredAt,
		FetchedAt:         fetchedAt,
		VictimCharacterID: esi.Victim.CharacterID,
		VictimCorpID:      esi.Victim.CorporationID,
		VictimAllianceID:  esi.Victim.AllianceID,
		VictimShipTypeID:  esi.Victim.ShipTypeID,
		ISKValue:          ISKString(pkg.ZKB.TotalValue),
		ZKBUrl:            fmt.Sprintf("https://zkillboard.com/kill/%d/", pkg.KillID),
		SpaceType:         classification.SpaceType,
		SecurityType:      classification.SecurityType,
	}

	event.Attackers = make([]models.Attacker, len(esi.Attackers))
	for i, att := range esi.Attackers {
		event.Attackers[i] = models.Attacker{
			CharacterID: att.CharacterID,
			CorpID:      att.CorporationID,
			AllianceID:  att.AllianceID,
			ShipTypeID:  att.ShipTypeID,
			FinalBlow:   att.FinalBlow,
		}
	}

	event.AttackerCharacterIDs = collectIDs(esi.Attackers, func(a dto.ESIAttacker) *int64 { return a.CharacterID })
	event.AttackerCorpIDs = collectIDs(esi.Attackers, func(a dto.ESIAttacker) *int64 { return a.CorporationID })
	event.AttackerAllianceIDs = collectIDs(esi.Attackers, func(a dto.ESIAttacker) *int64 { return a.AllianceID })

	return event, nil
}

// ISKString converts the feed's float ISK total to a decimal integer
// string. Negative, NaN and infinite values collapse to "0"; fractional
// ISK is truncated.
func ISKString(value float64) string {
	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
		return "0"
	}

	i, _ := new(big.Float).SetFloat64(value).Int(nil)
	if i.Sign() < 0 {
		return "0"
	}
	return i.String()
}

func collectIDs(attackers []dto.ESIAttacker, pick func(dto.ESIAttacker) *int64) []int64 {
	out := make([]int64, 0, len(attackers))
	seen := make(map[int64]struct{}, len(attackers))

	for _, att := range attackers {
		id := pick(att)
		if id == nil {
			continue
		}
		if _, ok := seen[*id]; ok {
			continue
		}
		seen[*id] = struct{}{}
		out = append(out, *id)
	}

	return out
}

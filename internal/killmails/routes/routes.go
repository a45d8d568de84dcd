package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"battlescope/internal/killmails/dto"
	"battlescope/internal/killmails/services"
	rulesetsServices "battlescope/internal/rulesets/services"
	"battlescope/pkg/universe"
)

// streamTick is how often a held stream request re-checks the store
const streamTick = time.Second

// Routes handles HTTP endpoints for the killmails module
type Routes struct {
	repository *services.Repository
	consumer   *services.Consumer
	rulesets   *rulesetsServices.Service
}

// NewRoutes creates a new Routes instance
func NewRoutes(
	repository *services.Repository,
	consumer *services.Consumer,
	rulesets *rulesetsServices.Service,
) *Routes {
	return &Routes{
		repository: repository,
		consumer:   consumer,
		rulesets:   rulesets,
	}
}

// RegisterRoutes registers all killmail routes
func (r *Routes) RegisterRoutes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getRecentKillmails",
		Method:      http.MethodGet,
		Path:        "/killmails/recent",
		Summary:     "Get recent killmails",
		Description: "Returns the most recently ingested killmails, newest first, optionally filtered by security type or the active ruleset's tracked entities",
		Tags:        []string{"Killmails"},
	}, r.GetRecentKillmails)

	huma.Register(api, huma.Operation{
		OperationID: "streamKillmails",
		Method:      http.MethodGet,
		Path:        "/killmails/stream",
		Summary:     "Stream killmails incrementally",
		Description: "Returns killmails with IDs greater than after_id, holding the request open until new killmails arrive or the poll interval elapses. Pass after_id=0 to bootstrap the cursor from the most recent killmails.",
		Tags:        []string{"Killmails"},
	}, r.StreamKillmails)

	huma.Register(api, huma.Operation{
		OperationID: "getKillmailStatus",
		Method:      http.MethodGet,
		Path:        "/killmails/status",
		Summary:     "Get killmail pipeline status",
		Description: "Returns the feed consumer's state and throughput metrics plus killmail store counts",
		Tags:        []string{"Module Status", "Killmails"},
	}, r.GetStatus)
}

// GetRecentKillmails returns recently ingested killmails
func (r *Routes) GetRecentKillmails(ctx context.Context, input *dto.RecentKillmailsInput) (*dto.RecentKillmailsOutput, error) {
	if err := validateSecurityTypes(input.SecurityTypes); err != nil {
		return nil, err
	}

	query := services.RecentQuery{
		Limit:         int64(input.Limit),
		SecurityTypes: input.SecurityTypes,
	}
	if input.TrackedOnly {
		query.Tracked = r.trackedFilter()
	}

	killmails, err := r.repository.GetRecent(ctx, query)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get recent killmails: " + err.Error())
	}

	return &dto.RecentKillmailsOutput{
		Body: dto.RecentKillmailsResponse{
			Killmails: dto.NewKillmailResponses(killmails),
			Count:     len(killmails),
		},
	}, nil
}

// StreamKillmails returns killmails newer than the caller's cursor, holding
// the request open until something arrives or the poll interval elapses
func (r *Routes) StreamKillmails(ctx context.Context, input *dto.StreamKillmailsInput) (*dto.StreamKillmailsOutput, error) {
	if input.AfterID == 0 {
		return r.bootstrapStream(ctx, input)
	}

	deadline := time.Now().Add(time.Duration(input.PollIntervalMs) * time.Millisecond)
	query := services.RecentQuery{
		Limit:   int64(input.Limit),
		AfterID: input.AfterID,
	}

	for {
		killmails, err := r.repository.GetRecent(ctx, query)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to stream killmails: " + err.Error())
		}

		if len(killmails) > 0 {
			return &dto.StreamKillmailsOutput{
				Body: dto.StreamKillmailsResponse{
					Killmails:   dto.NewKillmailResponses(killmails),
					NextAfterID: killmails[len(killmails)-1].KillmailID,
					Count:       len(killmails),
				},
			}, nil
		}

		wait := streamTick
		if remaining := time.Until(deadline); remaining <= 0 {
			break
		} else if remaining < wait {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	return &dto.StreamKillmailsOutput{
		Body: dto.StreamKillmailsResponse{
			Killmails:   []dto.KillmailResponse{},
			NextAfterID: input.AfterID,
			Count:       0,
		},
	}, nil
}

// bootstrapStream answers an after_id=0 request with the newest killmails
// and a cursor positioned at the head of the stream
func (r *Routes) bootstrapStream(ctx context.Context, input *dto.StreamKillmailsInput) (*dto.StreamKillmailsOutput, error) {
	killmails, err := r.repository.GetRecent(ctx, services.RecentQuery{Limit: int64(input.Limit)})
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to bootstrap stream: " + err.Error())
	}

	nextAfterID, err := r.repository.LatestKillmailID(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to resolve stream cursor: " + err.Error())
	}

	return &dto.StreamKillmailsOutput{
		Body: dto.StreamKillmailsResponse{
			Killmails:   dto.NewKillmailResponses(killmails),
			NextAfterID: nextAfterID,
			Count:       len(killmails),
		},
	}, nil
}

// GetStatusInput represents query parameters for the status endpoint
type GetStatusInput struct{}

// GetStatus returns the consumer's state and store counts
func (r *Routes) GetStatus(ctx context.Context, input *GetStatusInput) (*dto.KillmailStatusOutput, error) {
	total, err := r.repository.Count(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to count killmails: " + err.Error())
	}

	unprocessed, err := r.repository.CountUnprocessed(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to count unprocessed killmails: " + err.Error())
	}

	return &dto.KillmailStatusOutput{
		Body: dto.KillmailStatusResponse{
			Consumer: r.consumer.GetStatus(),
			Store: dto.StoreCounts{
				TotalKillmails:       total,
				UnprocessedKillmails: unprocessed,
			},
		},
	}, nil
}

// trackedFilter snapshots the active ruleset's tracked entities
func (r *Routes) trackedFilter() *services.TrackedFilter {
	ruleset := r.rulesets.Active()
	return &services.TrackedFilter{
		AllianceIDs:   ruleset.AllianceIDs,
		CorpIDs:       ruleset.CorpIDs,
		SystemIDs:     ruleset.SystemIDs,
		SecurityTypes: ruleset.SecurityTypes,
	}
}

func validateSecurityTypes(types []string) error {
	for _, t := range types {
		if !universe.IsValidSecurityType(t) {
			return huma.Error400BadRequest("invalid security type: " + t)
		}
	}
	return nil
}

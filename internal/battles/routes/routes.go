package routes

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"battlescope/internal/battles/dto"
	"battlescope/internal/battles/services"
	enrichmentServices "battlescope/internal/enrichment/services"
	killmailsServices "battlescope/internal/killmails/services"
)

// dashboardTopN caps the dashboard rankings
const dashboardTopN = 10

// Routes handles HTTP endpoints for the battles module
type Routes struct {
	repository *services.Repository
	clusterer  *services.Clusterer
	killmails  *killmailsServices.Repository
	enrichment *enrichmentServices.Repository
}

// NewRoutes creates a new Routes instance
func NewRoutes(
	repository *services.Repository,
	clusterer *services.Clusterer,
	killmails *killmailsServices.Repository,
	enrichment *enrichmentServices.Repository,
) *Routes {
	return &Routes{
		repository: repository,
		clusterer:  clusterer,
		killmails:  killmails,
		enrichment: enrichment,
	}
}

// RegisterRoutes registers all battle routes
func (r *Routes) RegisterRoutes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listBattles",
		Method:      http.MethodGet,
		Path:        "/battles",
		Summary:     "List battles",
		Description: "Returns battles most recent first, filterable by space, security type, system and involved entities, paginated with an opaque cursor",
		Tags:        []string{"Battles"},
	}, r.ListBattles)

	huma.Register(api, huma.Operation{
		OperationID: "getBattleDashboard",
		Method:      http.MethodGet,
		Path:        "/battles/dashboard",
		Summary:     "Get battle dashboard summary",
		Description: "Returns battle totals, unique entity counts and top-N alliance and corporation rankings",
		Tags:        []string{"Battles"},
	}, r.GetDashboard)

	huma.Register(api, huma.Operation{
		OperationID: "getBattleClustererStatus",
		Method:      http.MethodGet,
		Path:        "/battles/status",
		Summary:     "Get clusterer status",
		Description: "Returns the clusterer's schedule, effective configuration and throughput metrics",
		Tags:        []string{"Module Status", "Battles"},
	}, r.GetStatus)

	huma.Register(api, huma.Operation{
		OperationID: "getBattle",
		Method:      http.MethodGet,
		Path:        "/battles/{battle_id}",
		Summary:     "Get battle detail",
		Description: "Returns one battle with its member killmails, their enrichment statuses and its participants",
		Tags:        []string{"Battles"},
	}, r.GetBattle)
}

// ListBattles returns a filtered, cursor-paginated battle listing
func (r *Routes) ListBattles(ctx context.Context, input *dto.ListBattlesInput) (*dto.ListBattlesOutput, error) {
	query := services.ListQuery{
		SpaceType:    input.SpaceType,
		SecurityType: input.SecurityType,
		SystemID:     input.SystemID,
		AllianceID:   input.AllianceID,
		CorpID:       input.CorpID,
		CharacterID:  input.CharacterID,
		Since:        input.Since,
		Until:        input.Until,
		Cursor:       input.Cursor,
		Limit:        int64(input.Limit),
	}

	battles, nextCursor, err := r.repository.ListBattles(ctx, query)
	if err != nil {
		if services.IsMalformedCursor(err) {
			return nil, huma.Error400BadRequest("Invalid pagination cursor")
		}
		return nil, huma.Error500InternalServerError("Failed to list battles", err)
	}

	return &dto.ListBattlesOutput{
		Body: dto.ListBattlesResponse{
			Battles:    dto.NewBattleResponses(battles),
			NextCursor: nextCursor,
			Count:      len(battles),
		},
	}, nil
}

// GetBattle returns one battle joined with member killmails and participants
func (r *Routes) GetBattle(ctx context.Context, input *dto.GetBattleInput) (*dto.BattleDetailOutput, error) {
	battle, err := r.repository.GetByBattleID(ctx, input.BattleID)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to get battle", err)
	}
	if battle == nil || battle.Deleted {
		return nil, huma.Error404NotFound("Battle not found")
	}

	members, err := r.repository.GetMembers(ctx, battle.BattleID)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to get battle killmails", err)
	}

	killmailIDs := make([]int64, 0, len(members))
	for _, m := range members {
		killmailIDs = append(killmailIDs, m.KillmailID)
	}

	events, err := r.killmails.FetchByIDs(ctx, killmailIDs)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to load member killmails", err)
	}

	statuses, err := r.enrichment.StatusesByKillmailIDs(ctx, killmailIDs)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to load enrichment statuses", err)
	}
	statusByID := make(map[int64]string, len(statuses))
	for id, status := range statuses {
		statusByID[id] = string(status)
	}

	participants, err := r.repository.GetParticipants(ctx, battle.BattleID)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to get participants", err)
	}

	return &dto.BattleDetailOutput{
		Body: dto.BattleDetailResponse{
			Battle:       dto.NewBattleResponse(battle),
			Killmails:    dto.NewBattleKillmailResponses(events, statusByID),
			Participants: dto.NewParticipantResponses(participants),
		},
	}, nil
}

// GetDashboard returns the battle activity summary
func (r *Routes) GetDashboard(ctx context.Context, input *struct{}) (*dto.DashboardOutput, error) {
	summary, err := r.repository.GetDashboardSummary(ctx, dashboardTopN)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to compute dashboard", err)
	}

	return &dto.DashboardOutput{
		Body: dto.DashboardResponse{
			TotalBattles:       summary.TotalBattles,
			TotalKillmails:     summary.TotalKillmails,
			UniqueAlliances:    summary.UniqueAlliances,
			UniqueCorporations: summary.UniqueCorporations,
			TopAlliances:       entityCounts(summary.TopAlliances),
			TopCorporations:    entityCounts(summary.TopCorporations),
			GeneratedAt:        summary.GeneratedAt,
		},
	}, nil
}

// GetStatus returns the clusterer's state and metrics
func (r *Routes) GetStatus(ctx context.Context, input *struct{}) (*dto.ClustererStatusOutput, error) {
	totalBattles, err := r.repository.CountBattles(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to count battles", err)
	}

	cfg := r.clusterer.Config()
	metrics := r.clusterer.Metrics()

	response := dto.ClustererStatusResponse{
		Running:      r.clusterer.IsRunning(),
		Schedule:     cfg.Schedule,
		TotalBattles: totalBattles,
		Config: dto.ClustererConfigResponse{
			WindowMinutes:          cfg.WindowMinutes,
			GapMaxMinutes:          cfg.GapMaxMinutes,
			MinKills:               cfg.MinKills,
			ProcessingDelayMinutes: cfg.ProcessingDelayMinutes,
			BatchSize:              cfg.BatchSize,
			AssignSides:            cfg.AssignSides,
		},
		Metrics: dto.ClustererMetricsResponse{
			Ticks:          metrics.Ticks.Load(),
			BattlesCreated: metrics.BattlesCreated.Load(),
			Processed:      metrics.Processed.Load(),
			Ignored:        metrics.Ignored.Load(),
			Attributed:     metrics.Attributed.Load(),
			Quarantined:    metrics.Quarantined.Load(),
		},
	}

	if lastTick := r.clusterer.LastTick(); !lastTick.IsZero() {
		response.LastTick = &lastTick
	}

	return &dto.ClustererStatusOutput{Body: response}, nil
}

func entityCounts(rows []services.EntityCount) []dto.EntityCountResponse {
	out := make([]dto.EntityCountResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, dto.EntityCountResponse{EntityID: row.EntityID, Battles: row.Battles})
	}
	return out
}

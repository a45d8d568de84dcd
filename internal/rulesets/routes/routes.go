package routes

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"battlescope/internal/rulesets/dto"
	"battlescope/internal/rulesets/services"
)

// Routes handles HTTP endpoints for the rulesets module
type Routes struct {
	service *services.Service
}

// NewRoutes creates a new Routes instance
func NewRoutes(service *services.Service) *Routes {
	return &Routes{service: service}
}

// RegisterRoutes registers all ruleset routes
func (r *Routes) RegisterRoutes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getRuleset",
		Method:      http.MethodGet,
		Path:        "/rulesets",
		Summary:     "Get the active ruleset",
		Description: "Returns the acceptance filter applied to clustered battles and the tracked-entity sets",
		Tags:        []string{"Rulesets"},
	}, r.GetRuleset)

	huma.Register(api, huma.Operation{
		OperationID: "updateRuleset",
		Method:      http.MethodPatch,
		Path:        "/rulesets",
		Summary:     "Update the active ruleset",
		Description: "Applies the provided fields to the active ruleset. Administrative operation; changes take effect from the next clusterer batch.",
		Tags:        []string{"Rulesets"},
	}, r.UpdateRuleset)
}

// GetRulesetInput represents query parameters for the get endpoint
type GetRulesetInput struct{}

// GetRuleset returns the active ruleset
func (r *Routes) GetRuleset(ctx context.Context, input *GetRulesetInput) (*dto.RulesetOutput, error) {
	return &dto.RulesetOutput{
		Body: dto.NewRulesetResponse(r.service.Active()),
	}, nil
}

// UpdateRuleset applies a partial update to the active ruleset
func (r *Routes) UpdateRuleset(ctx context.Context, input *dto.UpdateRulesetInput) (*dto.RulesetOutput, error) {
	updated, err := r.service.Update(ctx, &input.Body)
	if err != nil {
		if errors.Is(err, services.ErrInvalidPatch) {
			return nil, huma.Error400BadRequest(err.Error())
		}
		return nil, huma.Error500InternalServerError("failed to update ruleset: " + err.Error())
	}

	return &dto.RulesetOutput{
		Body: dto.NewRulesetResponse(updated),
	}, nil
}

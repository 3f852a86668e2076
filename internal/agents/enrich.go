package agents

import (
	"context"
	"fmt"

	"github.com/voyageflow/voyageflow/internal/models"
	"github.com/voyageflow/voyageflow/internal/store"
)

// Enricher decorates a finished request result. Enrichment is strictly
// additive; a failing enricher never fails the request.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, result *models.RequestResult, userCtx *models.UserContext) error
}

// BackupPlanEnricher attaches alternative plans for booking intents so
// the user has options when the primary suggestion falls through
type BackupPlanEnricher struct{}

func (e *BackupPlanEnricher) Name() string { return "backup_plans" }

func (e *BackupPlanEnricher) Enrich(ctx context.Context, result *models.RequestResult, userCtx *models.UserContext) error {
	if userCtx == nil || userCtx.CurrentIntent == nil {
		return nil
	}

	switch userCtx.CurrentIntent.PrimaryIntent {
	case "book_flight":
		result.BackupPlans = append(result.BackupPlans,
			"check nearby airports for cheaper departures",
			"shift dates by one day for better fares")
	case "book_hotel":
		result.BackupPlans = append(result.BackupPlans,
			"widen the search radius by one neighborhood",
			"consider aparthotels for longer stays")
	case "plan_trip":
		result.BackupPlans = append(result.BackupPlans,
			"keep one unplanned day as weather buffer")
	}
	return nil
}

// GraphTipEnricher adds related-destination tips from the travel
// knowledge graph, keyed off the user's most recent trip
type GraphTipEnricher struct {
	graph store.TravelGraph
}

// NewGraphTipEnricher creates a graph-backed tip enricher
func NewGraphTipEnricher(graph store.TravelGraph) *GraphTipEnricher {
	return &GraphTipEnricher{graph: graph}
}

func (e *GraphTipEnricher) Name() string { return "graph_tips" }

func (e *GraphTipEnricher) Enrich(ctx context.Context, result *models.RequestResult, userCtx *models.UserContext) error {
	if e.graph == nil || userCtx == nil || len(userCtx.TravelHistory) == 0 {
		return nil
	}

	last := userCtx.TravelHistory[len(userCtx.TravelHistory)-1]
	related, err := e.graph.RelatedDestinations(ctx, last.Destination, 2)
	if err != nil {
		return fmt.Errorf("related destinations lookup failed: %w", err)
	}
	if len(related) == 0 {
		return nil
	}

	var tips []string
	for _, dest := range related {
		tips = append(tips, fmt.Sprintf("since you enjoyed %s, consider %s", last.Destination, dest.Name))
	}

	if result.Output == nil {
		result.Output = make(map[string]interface{})
	}
	result.Output["tips"] = tips
	return nil
}

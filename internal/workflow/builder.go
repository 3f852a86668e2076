package workflow

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/voyageflow/voyageflow/internal/cache"
	"github.com/voyageflow/voyageflow/internal/models"
)

const (
	entryNodeID = "intent-analysis"
	exitNodeID  = "response"

	// cacheability thresholds over synthesis-time estimates
	cacheableCostLimit     = 0.1
	cacheableDurationLimit = 5000
)

// BuilderConfig holds synthesis settings
type BuilderConfig struct {
	EnableCache        bool
	EnableOptimization bool
	CacheTTL           time.Duration
	CacheSize          int
}

// DefaultBuilderConfig returns default synthesis settings
func DefaultBuilderConfig() *BuilderConfig {
	return &BuilderConfig{
		EnableCache:        true,
		EnableOptimization: true,
		CacheTTL:           30 * time.Minute,
		CacheSize:          500,
	}
}

// Builder synthesizes workflow graphs from analyzed intents
type Builder struct {
	config *BuilderConfig
	cache  *cache.Store[*Workflow]
}

// NewBuilder creates a workflow builder
func NewBuilder(config *BuilderConfig) *Builder {
	if config == nil {
		config = DefaultBuilderConfig()
	}

	return &Builder{
		config: config,
		cache:  cache.NewStore[*Workflow](config.CacheTTL, config.CacheSize),
	}
}

// nodeTemplate is a per-intent blueprint for the primary task node
type nodeTemplate struct {
	kind        NodeKind
	name        string
	description string
	inputs      []string
	outputs     []string
	duration    float64
	cost        float64
}

// intentTemplates is the dispatch table keyed by primary intent name.
// Unknown intents fall back to the generic template.
var intentTemplates = map[string]nodeTemplate{
	"book_flight": {
		kind:        NodeAgent,
		name:        "flight_search",
		description: "Search and rank flight options",
		inputs:      []string{"intent", "preferences"},
		outputs:     []string{"flight_options"},
		duration:    1200,
		cost:        0.02,
	},
	"book_hotel": {
		kind:        NodeAgent,
		name:        "hotel_search",
		description: "Search and rank hotel options",
		inputs:      []string{"intent", "preferences"},
		outputs:     []string{"hotel_options"},
		duration:    1000,
		cost:        0.02,
	},
	"plan_trip": {
		kind:        NodeAgent,
		name:        "itinerary_planner",
		description: "Generate a multi-day itinerary",
		inputs:      []string{"intent", "preferences"},
		outputs:     []string{"itinerary"},
		duration:    1500,
		cost:        0.03,
	},
	"get_recommendations": {
		kind:        NodeAgent,
		name:        "recommendations",
		description: "Recommend destinations and activities",
		inputs:      []string{"intent", "preferences"},
		outputs:     []string{"recommendations"},
		duration:    800,
		cost:        0.015,
	},
}

// genericTemplate handles intents with no dedicated agent
var genericTemplate = nodeTemplate{
	kind:        NodeAgent,
	name:        "travel_assistant",
	description: "General travel assistance",
	inputs:      []string{"intent", "preferences"},
	outputs:     []string{"answer"},
	duration:    900,
	cost:        0.01,
}

// Synthesize builds a workflow graph for the analyzed intent.
// Cached graphs are returned as deep copies under a fresh id.
func (b *Builder) Synthesize(intent *models.IntentAnalysis, userCtx *models.UserContext) (*Workflow, error) {
	if intent == nil || intent.PrimaryIntent == "" {
		return nil, &ValidationError{Msg: "missing or empty intent"}
	}
	if userCtx == nil {
		return nil, &ValidationError{Msg: "missing user context"}
	}

	key := b.cacheKey(intent, userCtx)
	if b.config.EnableCache {
		if cached, ok := b.cache.Get(key); ok {
			return cached.Clone(), nil
		}
	}

	wf, err := b.build(intent, userCtx)
	if err != nil {
		return nil, err
	}

	if b.config.EnableOptimization {
		b.optimize(wf)
	}

	if b.config.EnableCache && wf.Metadata.Cacheable {
		b.cache.Set(key, wf)
	}

	return wf, nil
}

// build constructs the node set, edges, and metadata for one intent
func (b *Builder) build(intent *models.IntentAnalysis, userCtx *models.UserContext) (*Workflow, error) {
	wf := &Workflow{
		ID:          fmt.Sprintf("wf-%d", time.Now().UnixNano()),
		Name:        fmt.Sprintf("%s workflow", intent.PrimaryIntent),
		Description: fmt.Sprintf("Synthesized for intent %q", intent.PrimaryIntent),
		Nodes:       make(map[string]*Node),
		EntryNodes:  []string{entryNodeID},
		ExitNodes:   []string{exitNodeID},
	}

	// Entry: the intent analysis hand-off point
	wf.Nodes[entryNodeID] = &Node{
		ID:                entryNodeID,
		Kind:              NodeService,
		Name:              "intent_analysis",
		Description:       "Unpack the analyzed intent and user context",
		Outputs:           []string{"intent", "preferences", "history"},
		Priority:          0,
		EstimatedDuration: 200,
		EstimatedCost:     0.001,
	}

	// Primary intent node from the dispatch table
	template, ok := intentTemplates[intent.PrimaryIntent]
	if !ok {
		template = genericTemplate
	}
	primaryID := intent.PrimaryIntent
	wf.Nodes[primaryID] = &Node{
		ID:                primaryID,
		Kind:              template.kind,
		Name:              template.name,
		Description:       template.description,
		Inputs:            append([]string(nil), template.inputs...),
		Outputs:           append([]string(nil), template.outputs...),
		DependsOn:         []string{entryNodeID},
		Priority:          1,
		EstimatedDuration: template.duration,
		EstimatedCost:     template.cost,
		Retry:             &RetryPolicy{MaxAttempts: 2, Backoff: 200 * time.Millisecond},
	}

	// Secondary intents fan out under one parallel aggregation node
	if len(intent.SecondaryIntents) > 0 {
		n := len(intent.SecondaryIntents)
		wf.Nodes["secondary-intents"] = &Node{
			ID:                "secondary-intents",
			Kind:              NodeParallel,
			Name:              "secondary_intents",
			Description:       "Aggregate secondary intent tasks",
			Inputs:            []string{"intent"},
			Outputs:           []string{"secondary_results"},
			DependsOn:         []string{entryNodeID},
			Priority:          2,
			Tasks:             append([]string(nil), intent.SecondaryIntents...),
			EstimatedDuration: float64(600 * n),
			EstimatedCost:     0.01 * float64(n),
		}
	}

	// Context-conditioned nodes
	if userCtx.EmotionalState != "" && userCtx.EmotionalState != "neutral" {
		wf.Nodes["emotional-adaptation"] = &Node{
			ID:                "emotional-adaptation",
			Kind:              NodeAgent,
			Name:              "emotional_adaptation",
			Description:       "Adapt tone to the user's emotional state",
			Inputs:            []string{"intent"},
			Outputs:           []string{"tone_guidance"},
			DependsOn:         []string{entryNodeID},
			Priority:          2,
			EstimatedDuration: 500,
			EstimatedCost:     0.005,
		}
	}
	if len(userCtx.TravelHistory) > 0 {
		wf.Nodes["history-analysis"] = &Node{
			ID:                "history-analysis",
			Kind:              NodeService,
			Name:              "history_analysis",
			Description:       "Derive a travel profile from past trips",
			Inputs:            []string{"history"},
			Outputs:           []string{"travel_profile"},
			DependsOn:         []string{entryNodeID},
			Priority:          2,
			EstimatedDuration: 400,
			EstimatedCost:     0.002,
		}
	}
	if mentionsEnvironment(intent.ContextFactors) {
		wf.Nodes["carbon-footprint"] = &Node{
			ID:                "carbon-footprint",
			Kind:              NodeService,
			Name:              "carbon_footprint",
			Description:       "Estimate the trip's carbon footprint",
			Inputs:            []string{"intent"},
			Outputs:           []string{"carbon_estimate"},
			DependsOn:         []string{entryNodeID},
			Priority:          2,
			EstimatedDuration: 300,
			EstimatedCost:     0.002,
		}
	}

	// Exit: composes the final response from every terminal node
	exit := &Node{
		ID:                exitNodeID,
		Kind:              NodeService,
		Name:              "response_composer",
		Description:       "Compose the final user-facing response",
		Inputs:            allOutputs(wf.Nodes),
		Outputs:           []string{"response"},
		Priority:          9,
		EstimatedDuration: 50,
		EstimatedCost:     0.001,
	}
	exit.DependsOn = terminalNodes(wf.Nodes)
	wf.Nodes[exitNodeID] = exit

	wf.Edges = buildEdges(wf.Nodes)
	wf.Metadata = deriveMetadata(wf)

	if err := wf.Validate(); err != nil {
		return nil, &SynthesisError{Msg: "synthesized graph failed validation", Err: err}
	}

	return wf, nil
}

// buildEdges connects every node to each of its declared dependencies,
// carrying the subset of the dependency's outputs the node consumes
func buildEdges(nodes map[string]*Node) []Edge {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var edges []Edge
	for _, id := range ids {
		node := nodes[id]
		for _, dep := range node.DependsOn {
			edge := Edge{
				From:   dep,
				To:     id,
				Weight: float64(node.Priority),
			}
			if depNode, ok := nodes[dep]; ok {
				edge.Outputs = intersect(depNode.Outputs, node.Inputs)
			}
			edges = append(edges, edge)
		}
	}
	return edges
}

// terminalNodes lists node ids no other node depends on
func terminalNodes(nodes map[string]*Node) []string {
	depended := make(map[string]bool)
	for _, node := range nodes {
		for _, dep := range node.DependsOn {
			depended[dep] = true
		}
	}

	var terminals []string
	for id := range nodes {
		if !depended[id] {
			terminals = append(terminals, id)
		}
	}
	sort.Strings(terminals)
	return terminals
}

// deriveMetadata computes the workflow's derived scheduling metadata
func deriveMetadata(wf *Workflow) Metadata {
	meta := Metadata{
		OptimizationScore: 0.5,
		Version:           "v1",
		UpdatedAt:         time.Now(),
	}

	for _, node := range wf.Nodes {
		meta.EstimatedDuration += node.EstimatedDuration
		meta.EstimatedCost += node.EstimatedCost
		switch node.Kind {
		case NodeAgent:
			meta.RequiredAgents = append(meta.RequiredAgents, node.Name)
		case NodeService:
			meta.RequiredServices = append(meta.RequiredServices, node.Name)
		}
	}
	sort.Strings(meta.RequiredAgents)
	sort.Strings(meta.RequiredServices)

	nodeCount := len(wf.Nodes)
	edgeCount := len(wf.Edges)
	switch {
	case nodeCount <= 3 && edgeCount <= 3:
		meta.Complexity = ComplexitySimple
	case nodeCount > 8 || edgeCount > 12:
		meta.Complexity = ComplexityComplex
	default:
		meta.Complexity = ComplexityMedium
	}

	meta.Cacheable = meta.EstimatedCost < cacheableCostLimit &&
		meta.EstimatedDuration < cacheableDurationLimit

	return meta
}

// optimize applies the score-only rule set. Node and edge identity is
// never touched here.
func (b *Builder) optimize(wf *Workflow) {
	if len(wf.Nodes) > 5 {
		wf.Metadata.OptimizationScore += 0.1 // parallelism bonus
	}
	if wf.Metadata.Cacheable {
		wf.Metadata.OptimizationScore += 0.05 // caching bonus
	}
	if wf.Metadata.OptimizationScore > 1 {
		wf.Metadata.OptimizationScore = 1
	}
	wf.Metadata.UpdatedAt = time.Now()
}

// cacheKey derives the workflow cache key from the intent and the
// context fields that shape synthesis
func (b *Builder) cacheKey(intent *models.IntentAnalysis, userCtx *models.UserContext) string {
	prefs := make([]string, 0, len(userCtx.Preferences))
	for k, v := range userCtx.Preferences {
		prefs = append(prefs, k+"="+v)
	}
	sort.Strings(prefs)

	return fmt.Sprintf("%s|%.2f|%s|%s|%s",
		intent.PrimaryIntent,
		intent.Confidence,
		userCtx.UserID,
		userCtx.EmotionalState,
		strings.Join(prefs, ","))
}

// CacheLen returns the number of cached workflows
func (b *Builder) CacheLen() int {
	return b.cache.Len()
}

// Cache exposes the workflow cache for maintenance sweeps
func (b *Builder) Cache() *cache.Store[*Workflow] {
	return b.cache
}

// mentionsEnvironment reports whether any context factor is environmental
func mentionsEnvironment(factors []string) bool {
	for _, factor := range factors {
		if strings.Contains(strings.ToLower(factor), "environment") {
			return true
		}
	}
	return false
}

// allOutputs collects every output name declared by the given nodes
func allOutputs(nodes map[string]*Node) []string {
	seen := make(map[string]bool)
	var outputs []string
	for _, node := range nodes {
		for _, out := range node.Outputs {
			if !seen[out] {
				seen[out] = true
				outputs = append(outputs, out)
			}
		}
	}
	sort.Strings(outputs)
	return outputs
}

// intersect returns the members of a present in b
func intersect(a, b []string) []string {
	want := make(map[string]bool, len(b))
	for _, name := range b {
		want[name] = true
	}

	var matched []string
	for _, name := range a {
		if want[name] {
			matched = append(matched, name)
		}
	}
	return matched
}

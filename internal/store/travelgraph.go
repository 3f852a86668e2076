package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/dgo/v230"
	"github.com/dgraph-io/dgo/v230/protos/api"
	"github.com/voyageflow/voyageflow/internal/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Destination is one place in the travel knowledge graph
type Destination struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Country string   `json:"country"`
	Tags    []string `json:"tags"`
	Climate string   `json:"climate,omitempty"`
}

// TravelGraph answers destination questions for the history-analysis
// and recommendation steps
type TravelGraph interface {
	StoreDestination(ctx context.Context, dest *Destination) error
	RecordVisit(ctx context.Context, userID string, record *models.TravelRecord) error
	VisitedDestinations(ctx context.Context, userID string) ([]string, error)
	RelatedDestinations(ctx context.Context, name string, limit int) ([]*Destination, error)
	Close() error
}

// DgraphTravelGraph implements TravelGraph on Dgraph
type DgraphTravelGraph struct {
	client *dgo.Dgraph
	conn   *grpc.ClientConn
}

// NewDgraphTravelGraph connects to a Dgraph alpha and installs the
// travel schema
func NewDgraphTravelGraph(alphaURL string) (*DgraphTravelGraph, error) {
	conn, err := grpc.Dial(alphaURL, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Dgraph: %w", err)
	}

	client := dgo.NewDgraphClient(api.NewDgraphClient(conn))

	graph := &DgraphTravelGraph{
		client: client,
		conn:   conn,
	}

	if err := graph.initSchema(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return graph, nil
}

func (g *DgraphTravelGraph) initSchema(ctx context.Context) error {
	schema := `
		type Destination {
			dest.id: string
			dest.name: string
			dest.country: string
			dest.tags: string
			dest.climate: string
		}

		type Visit {
			visit.user: string
			visit.purpose: string
			visit.rating: float
			visit.start: datetime
			visited: uid
		}

		dest.id: string @index(exact) @upsert .
		dest.name: string @index(fulltext, trigram) .
		dest.country: string @index(exact) .
		dest.tags: string @index(term) .
		dest.climate: string @index(exact) .

		visit.user: string @index(exact) .
		visit.purpose: string @index(exact) .
		visit.rating: float .
		visit.start: datetime @index(hour) .

		visited: uid @reverse .
	`

	op := &api.Operation{Schema: schema}
	return g.client.Alter(ctx, op)
}

// StoreDestination upserts a destination node
func (g *DgraphTravelGraph) StoreDestination(ctx context.Context, dest *Destination) error {
	if dest == nil || dest.Name == "" {
		return fmt.Errorf("destination name is required")
	}
	if dest.ID == "" {
		dest.ID = fmt.Sprintf("dest-%d", time.Now().UnixNano())
	}

	payload, err := json.Marshal(map[string]interface{}{
		"dest.id":      dest.ID,
		"dest.name":    dest.Name,
		"dest.country": dest.Country,
		"dest.tags":    strings.Join(dest.Tags, " "),
		"dest.climate": dest.Climate,
		"dgraph.type":  "Destination",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal destination: %w", err)
	}

	mutation := &api.Mutation{
		CommitNow: true,
		SetJson:   payload,
	}

	txn := g.client.NewTxn()
	defer txn.Discard(ctx)

	_, err = txn.Mutate(ctx, mutation)
	return err
}

// RecordVisit links a user's trip to a destination node, creating the
// destination if the graph has never seen it
func (g *DgraphTravelGraph) RecordVisit(ctx context.Context, userID string, record *models.TravelRecord) error {
	if userID == "" || record == nil || record.Destination == "" {
		return fmt.Errorf("user id and destination are required")
	}

	destUID, err := g.destinationUID(ctx, record.Destination)
	if err != nil {
		if err := g.StoreDestination(ctx, &Destination{Name: record.Destination}); err != nil {
			return fmt.Errorf("failed to create destination: %w", err)
		}
		destUID, err = g.destinationUID(ctx, record.Destination)
		if err != nil {
			return fmt.Errorf("failed to resolve destination: %w", err)
		}
	}

	payload, err := json.Marshal(map[string]interface{}{
		"uid":           "_:visit",
		"visit.user":    userID,
		"visit.purpose": record.Purpose,
		"visit.rating":  record.Rating,
		"visit.start":   record.StartDate.Format(time.RFC3339),
		"visited":       map[string]string{"uid": destUID},
		"dgraph.type":   "Visit",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal visit: %w", err)
	}

	mutation := &api.Mutation{
		CommitNow: true,
		SetJson:   payload,
	}

	txn := g.client.NewTxn()
	defer txn.Discard(ctx)

	_, err = txn.Mutate(ctx, mutation)
	return err
}

// VisitedDestinations lists the destination names a user has visited
func (g *DgraphTravelGraph) VisitedDestinations(ctx context.Context, userID string) ([]string, error) {
	q := `query visits($user: string) {
		visits(func: eq(visit.user, $user)) {
			visited {
				dest.name
			}
		}
	}`

	resp, err := g.client.NewReadOnlyTxn().QueryWithVars(ctx, q, map[string]string{"$user": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to query visits: %w", err)
	}

	var parsed struct {
		Visits []struct {
			Visited []struct {
				Name string `json:"dest.name"`
			} `json:"visited"`
		} `json:"visits"`
	}
	if err := json.Unmarshal(resp.Json, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse visits: %w", err)
	}

	seen := make(map[string]bool)
	var names []string
	for _, visit := range parsed.Visits {
		for _, dest := range visit.Visited {
			if dest.Name != "" && !seen[dest.Name] {
				seen[dest.Name] = true
				names = append(names, dest.Name)
			}
		}
	}
	return names, nil
}

// RelatedDestinations finds destinations sharing tags with the named one
func (g *DgraphTravelGraph) RelatedDestinations(ctx context.Context, name string, limit int) ([]*Destination, error) {
	if limit <= 0 {
		limit = 5
	}

	origin, err := g.lookupDestination(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(origin.Tags) == 0 {
		return nil, nil
	}

	q := fmt.Sprintf(`query related($tags: string) {
		related(func: anyofterms(dest.tags, $tags), first: %d) {
			dest.id
			dest.name
			dest.country
			dest.tags
			dest.climate
		}
	}`, limit+1)

	resp, err := g.client.NewReadOnlyTxn().QueryWithVars(ctx, q, map[string]string{
		"$tags": strings.Join(origin.Tags, " "),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query related destinations: %w", err)
	}

	candidates, err := parseDestinations(resp.Json, "related")
	if err != nil {
		return nil, err
	}

	var related []*Destination
	for _, dest := range candidates {
		if dest.Name == origin.Name {
			continue
		}
		related = append(related, dest)
		if len(related) == limit {
			break
		}
	}
	return related, nil
}

// Close releases the gRPC connection
func (g *DgraphTravelGraph) Close() error {
	return g.conn.Close()
}

func (g *DgraphTravelGraph) destinationUID(ctx context.Context, name string) (string, error) {
	q := `query dest($name: string) {
		dest(func: eq(dest.name, $name), first: 1) {
			uid
		}
	}`

	resp, err := g.client.NewReadOnlyTxn().QueryWithVars(ctx, q, map[string]string{"$name": name})
	if err != nil {
		return "", fmt.Errorf("failed to query destination: %w", err)
	}

	var parsed struct {
		Dest []struct {
			UID string `json:"uid"`
		} `json:"dest"`
	}
	if err := json.Unmarshal(resp.Json, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse destination: %w", err)
	}
	if len(parsed.Dest) == 0 {
		return "", fmt.Errorf("destination not found: %s", name)
	}
	return parsed.Dest[0].UID, nil
}

func (g *DgraphTravelGraph) lookupDestination(ctx context.Context, name string) (*Destination, error) {
	q := `query dest($name: string) {
		dest(func: eq(dest.name, $name), first: 1) {
			dest.id
			dest.name
			dest.country
			dest.tags
			dest.climate
		}
	}`

	resp, err := g.client.NewReadOnlyTxn().QueryWithVars(ctx, q, map[string]string{"$name": name})
	if err != nil {
		return nil, fmt.Errorf("failed to query destination: %w", err)
	}

	dests, err := parseDestinations(resp.Json, "dest")
	if err != nil {
		return nil, err
	}
	if len(dests) == 0 {
		return nil, fmt.Errorf("destination not found: %s", name)
	}
	return dests[0], nil
}

func parseDestinations(raw []byte, field string) ([]*Destination, error) {
	var parsed map[string][]struct {
		ID      string `json:"dest.id"`
		Name    string `json:"dest.name"`
		Country string `json:"dest.country"`
		Tags    string `json:"dest.tags"`
		Climate string `json:"dest.climate"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse destinations: %w", err)
	}

	var dests []*Destination
	for _, entry := range parsed[field] {
		dest := &Destination{
			ID:      entry.ID,
			Name:    entry.Name,
			Country: entry.Country,
			Climate: entry.Climate,
		}
		if entry.Tags != "" {
			dest.Tags = strings.Fields(entry.Tags)
		}
		dests = append(dests, dest)
	}
	return dests, nil
}

// MemoryTravelGraph keeps the graph in process for tests and runs
// without a Dgraph cluster
type MemoryTravelGraph struct {
	destinations map[string]*Destination
	visits       map[string][]models.TravelRecord
	mu           sync.RWMutex
}

// NewMemoryTravelGraph creates an empty in-memory travel graph
func NewMemoryTravelGraph() *MemoryTravelGraph {
	return &MemoryTravelGraph{
		destinations: make(map[string]*Destination),
		visits:       make(map[string][]models.TravelRecord),
	}
}

func (g *MemoryTravelGraph) StoreDestination(ctx context.Context, dest *Destination) error {
	if dest == nil || dest.Name == "" {
		return fmt.Errorf("destination name is required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	copied := *dest
	if copied.ID == "" {
		copied.ID = fmt.Sprintf("dest-%d", time.Now().UnixNano())
	}
	g.destinations[copied.Name] = &copied
	return nil
}

func (g *MemoryTravelGraph) RecordVisit(ctx context.Context, userID string, record *models.TravelRecord) error {
	if userID == "" || record == nil || record.Destination == "" {
		return fmt.Errorf("user id and destination are required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.destinations[record.Destination]; !ok {
		g.destinations[record.Destination] = &Destination{
			ID:   fmt.Sprintf("dest-%d", time.Now().UnixNano()),
			Name: record.Destination,
		}
	}
	g.visits[userID] = append(g.visits[userID], *record)
	return nil
}

func (g *MemoryTravelGraph) VisitedDestinations(ctx context.Context, userID string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]bool)
	var names []string
	for _, record := range g.visits[userID] {
		if !seen[record.Destination] {
			seen[record.Destination] = true
			names = append(names, record.Destination)
		}
	}
	return names, nil
}

func (g *MemoryTravelGraph) RelatedDestinations(ctx context.Context, name string, limit int) ([]*Destination, error) {
	if limit <= 0 {
		limit = 5
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	origin, ok := g.destinations[name]
	if !ok {
		return nil, fmt.Errorf("destination not found: %s", name)
	}

	originTags := make(map[string]bool, len(origin.Tags))
	for _, tag := range origin.Tags {
		originTags[tag] = true
	}

	type scored struct {
		dest   *Destination
		shared int
	}
	var candidates []scored
	for _, dest := range g.destinations {
		if dest.Name == origin.Name {
			continue
		}
		shared := 0
		for _, tag := range dest.Tags {
			if originTags[tag] {
				shared++
			}
		}
		if shared > 0 {
			candidates = append(candidates, scored{dest: dest, shared: shared})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].shared != candidates[j].shared {
			return candidates[i].shared > candidates[j].shared
		}
		return candidates[i].dest.Name < candidates[j].dest.Name
	})

	var related []*Destination
	for _, candidate := range candidates {
		copied := *candidate.dest
		related = append(related, &copied)
		if len(related) == limit {
			break
		}
	}
	return related, nil
}

func (g *MemoryTravelGraph) Close() error {
	return nil
}

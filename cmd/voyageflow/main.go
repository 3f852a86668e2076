package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/voyageflow/voyageflow/internal/agents"
	"github.com/voyageflow/voyageflow/internal/cache"
	"github.com/voyageflow/voyageflow/internal/intent"
	"github.com/voyageflow/voyageflow/internal/models"
	"github.com/voyageflow/voyageflow/internal/provider"
	"github.com/voyageflow/voyageflow/internal/scheduler"
	"github.com/voyageflow/voyageflow/internal/store"
	"github.com/voyageflow/voyageflow/internal/workflow"
)

const version = "0.1.0-alpha"

func main() {
	printBanner()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n\nShutting down...")
		cancel()
		os.Exit(0)
	}()

	logger := log.New(os.Stderr, "voyageflow ", log.LstdFlags)

	registry := provider.NewRegistry()
	registerDefaultProviders(registry)

	vault := store.NewMemoryVault()
	caller := provider.NewHTTPModelCaller(2*time.Minute, vault)
	selector := provider.NewSelector(registry, caller, nil)
	selector.Start()
	defer selector.Stop()

	classifier := intent.NewRuleClassifier()
	builder := workflow.NewBuilder(nil)

	graph := buildTravelGraph(logger)
	defer graph.Close()

	agentRegistry := agents.NewRegistry()
	agents.NewTravelAgents(selector).RegisterAll(agentRegistry)
	agents.NewServices(graph).RegisterAll(agentRegistry)

	engine := workflow.NewEngine(agentRegistry, nil)

	profiles, auditLog := openStores(logger)
	defer profiles.Close()
	if auditLog != nil {
		defer auditLog.Close()
	}

	results := buildResultCache(logger)
	defer results.Close()

	sched := scheduler.New(nil, classifier, builder, engine, profiles, results, auditLog, logger)
	sched.AddEnricher(&agents.BackupPlanEnricher{})
	sched.AddEnricher(agents.NewGraphTipEnricher(graph))
	sched.OwnCache("responses", selector.ResponseCache())
	sched.Start()
	defer sched.Stop()

	fmt.Printf("✓ %d providers registered | %d agents\n\n", registry.Len(), len(agentRegistry.Names()))

	userID := os.Getenv("VOYAGEFLOW_USER")
	if userID == "" {
		userID = "local"
	}

	scanner := bufio.NewScanner(os.Stdin)
	var lastResult *models.RequestResult

	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			handleCommand(ctx, input, sched, registry, auditLog, userID, lastResult)
			continue
		}

		fmt.Print("\n🧭 Planning... ")
		result, err := sched.HandleRequest(ctx, userID, input, nil)
		if err != nil {
			fmt.Printf("\n❌ Error: %v\n\n", err)
			continue
		}
		lastResult = result

		printResult(result)
	}
}

// registerDefaultProviders seeds the registry with local endpoints.
// Real deployments register providers from configuration instead.
func registerDefaultProviders(registry *provider.Registry) {
	defaults := []*models.ProviderRecord{
		{
			ID:        "ollama-llama3",
			Name:      "Ollama Llama 3",
			Category:  models.ProviderLocal,
			Endpoint:  envOr("OLLAMA_URL", "http://localhost:11434"),
			Model:     envOr("OLLAMA_MODEL", "llama3.2"),
			CostPer1K: 0,
			MaxTokens: 4096,
			Strengths: []string{"reasoning", "creative"},
			RateLimit: models.RateLimitRule{RequestsPerMinute: 120},
		},
		{
			ID:        "ollama-mistral",
			Name:      "Ollama Mistral",
			Category:  models.ProviderLocal,
			Endpoint:  envOr("OLLAMA_URL", "http://localhost:11434"),
			Model:     "mistral",
			CostPer1K: 0,
			MaxTokens: 4096,
			Strengths: []string{"reasoning"},
			RateLimit: models.RateLimitRule{RequestsPerMinute: 120},
		},
	}

	for _, record := range defaults {
		if err := registry.Register(record); err != nil {
			log.Printf("failed to register provider %s: %v", record.ID, err)
		}
	}
}

// buildTravelGraph connects to Dgraph when configured, falling back to
// the in-memory graph
func buildTravelGraph(logger *log.Logger) store.TravelGraph {
	if alpha := os.Getenv("DGRAPH_ALPHA"); alpha != "" {
		graph, err := store.NewDgraphTravelGraph(alpha)
		if err == nil {
			return graph
		}
		logger.Printf("dgraph unavailable, using in-memory travel graph: %v", err)
	}
	return store.NewMemoryTravelGraph()
}

// openStores opens the profile database and the audit log. Both are
// optional; in-memory fallbacks keep the REPL usable without state dirs.
func openStores(logger *log.Logger) (store.ProfileStore, *store.SQLiteAuditLog) {
	var profiles store.ProfileStore
	profiles, err := store.NewBadgerProfileStore("~/.voyageflow/profiles")
	if err != nil {
		logger.Printf("profile store unavailable, using in-memory profiles: %v", err)
		profiles = store.NewMemoryProfileStore()
	}

	auditLog, err := store.NewSQLiteAuditLog("~/.voyageflow/audit.db")
	if err != nil {
		logger.Printf("audit log unavailable: %v", err)
		auditLog = nil
	}

	return profiles, auditLog
}

// buildResultCache prefers Redis when configured
func buildResultCache(logger *log.Logger) cache.ResultCache {
	if addr := os.Getenv("REDIS_URL"); addr != "" {
		redisCache, err := cache.NewRedisResultCache(&cache.RedisConfig{Addr: addr})
		if err == nil {
			return redisCache
		}
		logger.Printf("redis unavailable, using in-memory result cache: %v", err)
	}
	return cache.NewMemoryResultCache(time.Hour)
}

func handleCommand(ctx context.Context, cmd string, sched *scheduler.Scheduler, registry *provider.Registry, auditLog *store.SQLiteAuditLog, userID string, lastResult *models.RequestResult) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "/help":
		fmt.Println("\nCommands: /help /health /providers /history /cancel <execution-id> /last /exit")
		fmt.Println()
	case "/health":
		printHealth(sched.GetHealthMetrics(ctx))
	case "/providers":
		fmt.Println("\nProviders:")
		for _, record := range registry.Available() {
			fmt.Printf("  • %s (%s) — quality %.2f, avg %.0fms\n",
				record.Name, record.Model,
				record.Stats.QualityScore,
				float64(record.Stats.AvgResponseTime.Milliseconds()))
		}
		fmt.Println()
	case "/history":
		if auditLog == nil {
			fmt.Println("\nAudit log is not available")
			return
		}
		entries, err := auditLog.Query(ctx, &store.AuditFilter{UserID: userID, Limit: 10})
		if err != nil {
			fmt.Printf("\nFailed to read history: %v\n\n", err)
			return
		}
		if len(entries) == 0 {
			fmt.Println("\nNo requests yet")
			return
		}
		fmt.Println("\nRecent requests:")
		for _, entry := range entries {
			status := "✓"
			if !entry.Success {
				status = "✗"
			}
			fmt.Printf("  %s %s %s $%.4f %dms\n",
				status, entry.Timestamp.Format("15:04:05"),
				entry.Intent, entry.Cost, entry.Duration.Milliseconds())
		}
		fmt.Println()
	case "/cancel":
		if len(parts) < 2 {
			fmt.Println("\nUsage: /cancel <execution-id>")
			return
		}
		if sched.CancelExecution(parts[1]) {
			fmt.Printf("\n✓ Cancellation requested for %s\n\n", parts[1])
		} else {
			fmt.Printf("\nNo running execution %s\n\n", parts[1])
		}
	case "/last":
		if lastResult == nil {
			fmt.Println("\nNo requests yet")
			return
		}
		printResult(lastResult)
	case "/exit", "/quit":
		fmt.Println("Safe travels! 👋")
		os.Exit(0)
	}
}

func printResult(result *models.RequestResult) {
	if !result.Success {
		fmt.Printf("\n❌ %s\n\n", result.Error)
		return
	}

	if response, ok := result.Output["response"].(string); ok {
		fmt.Printf("\n%s\n", response)
	}
	for _, key := range []string{"flight_options", "hotel_options", "itinerary", "recommendations", "answer"} {
		if text, ok := result.Output[key].(string); ok {
			fmt.Printf("\n%s\n", text)
		}
	}
	if tips, ok := result.Output["tips"].([]string); ok {
		for _, tip := range tips {
			fmt.Printf("  💡 %s\n", tip)
		}
	}
	for _, plan := range result.BackupPlans {
		fmt.Printf("  🔄 %s\n", plan)
	}

	cachedTag := ""
	if result.Cached {
		cachedTag = " | cached"
	}
	fmt.Printf("\n⏱ %dms | 💰 $%.4f | agents: %s%s\n\n",
		result.ExecutionMs, result.Cost,
		strings.Join(result.AgentsUsed, ", "), cachedTag)
}

func printHealth(health *scheduler.HealthMetrics) {
	fmt.Println("\n=== Health ===")
	fmt.Printf("Active executions: %d\n", health.ActiveExecutions)
	fmt.Printf("Users: %d | Avg latency: %dms | Total cost: $%.4f\n",
		health.TotalUsers, health.AvgExecutionMs, health.TotalCost)
	fmt.Printf("Load: %d/%d running, %d queued (%.0f%%)\n",
		health.LoadBalancing.Current, health.LoadBalancing.Max,
		health.LoadBalancing.Queued, health.LoadBalancing.UtilizationPct)
	fmt.Printf("Cache hit rate: %.0f%%\n", 100*health.Cache.HitRate)
	for name, size := range health.Cache.Sizes {
		fmt.Printf("  %s: %d entries\n", name, size)
	}
	fmt.Println()
}

func printBanner() {
	fmt.Printf(`
╔═════════════════════════════════════════════════════════╗
║           VoyageFlow Travel Orchestrator %s       ║
║         Request cache · DAG engine · model router       ║
╚═════════════════════════════════════════════════════════╝

`, version)
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/spendgraph/internal/analytics"
	"github.com/dvloznov/spendgraph/internal/config"
	"github.com/dvloznov/spendgraph/internal/graph"
	bqstore "github.com/dvloznov/spendgraph/internal/graph/bigquery"
	"github.com/dvloznov/spendgraph/internal/graph/memory"
	"github.com/dvloznov/spendgraph/internal/graph/sqlite"
	"github.com/dvloznov/spendgraph/internal/ingest"
	"github.com/dvloznov/spendgraph/internal/ingest/plaidapi"
	"github.com/dvloznov/spendgraph/internal/logger"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "sync":
		runSync(log)
	case "stats":
		runStats(log)
	case "report":
		runReport(log)
	case "wipe":
		runWipe(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Spendgraph CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  sync      Pull accounts and transactions from the configured source")
	fmt.Println("  stats     Show graph node and relationship counts")
	fmt.Println("  report    Run an analytics report (see -kind)")
	fmt.Println("  wipe      Delete all graph data (requires confirmation token)")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func openStore(ctx context.Context, cfg *config.Config) (graph.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return memory.NewStore(), nil
	case config.BackendSQLite:
		return sqlite.NewStore(cfg.Store.SQLitePath)
	case config.BackendBigQuery:
		return bqstore.NewStore(ctx, cfg.Store.BigQuery.ProjectID, cfg.Store.BigQuery.DatasetID)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func loadConfig(fs *flag.FlagSet, log zerolog.Logger) *config.Config {
	path := "config.yaml"
	if f := fs.Lookup("config"); f != nil {
		path = f.Value.String()
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	return cfg
}

func runSync(log zerolog.Logger) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	fs.String("config", "config.yaml", "Path to YAML config file")
	fs.Parse(os.Args[2:])

	cfg := loadConfig(fs, log)
	if cfg.Source.BaseURL == "" {
		log.Fatal().Msg("Error: no transaction source configured (set SOURCE_BASE_URL)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open graph store")
	}
	defer store.Close()

	source := plaidapi.NewClient(cfg.Source.BaseURL, nil)
	syncer := ingest.NewSyncer(source, store, cfg.Source.PageSize)

	result, err := syncer.Sync(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}

	fmt.Printf("Sync %s completed: %d fetched, %d saved, %d skipped\n",
		result.SyncID, result.Fetched, result.Saved, result.Skipped)
	if len(result.Errors) > 0 {
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Record", "Field", "Reason"})
		for _, e := range result.Errors {
			table.Append([]string{e.RecordID, e.Field, e.Reason})
		}
		table.Render()
	}
}

func runStats(log zerolog.Logger) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.String("config", "config.yaml", "Path to YAML config file")
	fs.Parse(os.Args[2:])

	cfg := loadConfig(fs, log)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open graph store")
	}
	defer store.Close()

	stats, err := store.Stats(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read graph stats")
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Node Type", "Count"})
	table.Append([]string{"Transactions", strconv.Itoa(stats.Transactions)})
	table.Append([]string{"Accounts", strconv.Itoa(stats.Accounts)})
	table.Append([]string{"Merchants", strconv.Itoa(stats.Merchants)})
	table.Append([]string{"Categories", strconv.Itoa(stats.Categories)})
	table.Append([]string{"Relationships", strconv.Itoa(stats.Relationships)})
	table.Render()
}

func runReport(log zerolog.Logger) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	fs.String("config", "config.yaml", "Path to YAML config file")
	kind := fs.String("kind", "categories", "Report kind: categories|merchants|trends|anomalies|velocity|recurring|co-occurrence|transitions|day-of-week|lineage")
	days := fs.Int("days", 30, "Window in days (categories)")
	limit := fs.Int("limit", 20, "Result limit (merchants)")
	accountID := fs.String("account", "", "Account ID (trends, velocity, transitions)")
	threshold := fs.Float64("threshold", 2.0, "Score threshold (anomalies)")
	maxGap := fs.Int("max-gap-days", 0, "Max gap in days (co-occurrence, transitions)")
	category := fs.String("category", "", "Category name (lineage)")
	fs.Parse(os.Args[2:])

	cfg := loadConfig(fs, log)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open graph store")
	}
	defer store.Close()

	engine := analytics.NewEngine(store)
	table := tablewriter.NewWriter(os.Stdout)

	switch *kind {
	case "categories":
		rows, err := engine.SpendingByCategory(ctx, *days)
		fatalOn(log, err, "Report failed")
		table.SetHeader([]string{"Category", "Total", "Count", "Average"})
		for _, r := range rows {
			table.Append([]string{r.Category, r.Total.StringFixed(2),
				strconv.Itoa(r.Count), r.Average.StringFixed(2)})
		}

	case "merchants":
		rows, err := engine.MerchantAnalysis(ctx, *limit)
		fatalOn(log, err, "Report failed")
		table.SetHeader([]string{"Merchant", "Visits", "Total", "Average", "Categories"})
		for _, r := range rows {
			table.Append([]string{r.Merchant, strconv.Itoa(r.Count),
				r.Total.StringFixed(2), r.Average.StringFixed(2),
				strings.Join(r.Categories, ", ")})
		}

	case "trends":
		rows, err := engine.SpendingTrends(ctx, *accountID)
		fatalOn(log, err, "Report failed")
		table.SetHeader([]string{"Month", "Total", "Count", "Average"})
		for _, r := range rows {
			table.Append([]string{r.Month, r.Total.StringFixed(2),
				strconv.Itoa(r.Count), r.Average.StringFixed(2)})
		}

	case "anomalies":
		rows, err := engine.DetectAnomalies(ctx, *threshold)
		fatalOn(log, err, "Report failed")
		table.SetHeader([]string{"Transaction", "Name", "Amount", "Category", "Mean", "Score"})
		for _, r := range rows {
			table.Append([]string{r.TransactionID, r.Name, r.Amount.StringFixed(2),
				r.Category, r.CategoryMean.StringFixed(2),
				strconv.FormatFloat(r.Score, 'f', 2, 64)})
		}

	case "velocity":
		rows, err := engine.SpendingVelocity(ctx, *accountID)
		fatalOn(log, err, "Report failed")
		table.SetHeader([]string{"Account", "Weeks", "Avg Count", "Avg Amount", "Volatility"})
		for _, r := range rows {
			table.Append([]string{r.AccountID, strconv.Itoa(r.Weeks),
				strconv.FormatFloat(r.AvgWeeklyCount, 'f', 1, 64),
				r.AvgWeeklyAmount.StringFixed(2),
				strconv.FormatFloat(r.Volatility, 'f', 3, 64)})
		}

	case "recurring":
		rows, err := engine.RecurringMerchants(ctx)
		fatalOn(log, err, "Report failed")
		table.SetHeader([]string{"Merchant", "Visits", "Avg", "Min", "Max"})
		for _, r := range rows {
			table.Append([]string{r.Merchant, strconv.Itoa(r.Count),
				r.AvgAmount.StringFixed(2), r.MinAmount.StringFixed(2),
				r.MaxAmount.StringFixed(2)})
		}

	case "co-occurrence":
		gap := *maxGap
		if gap == 0 {
			gap = 1
		}
		rows, err := engine.MerchantCoOccurrence(ctx, gap)
		fatalOn(log, err, "Report failed")
		table.SetHeader([]string{"Merchant A", "Merchant B", "Count"})
		for _, r := range rows {
			table.Append([]string{r.MerchantA, r.MerchantB, strconv.Itoa(r.Count)})
		}

	case "transitions":
		if *accountID == "" {
			log.Fatal().Msg("Error: -account is required for transitions")
		}
		gap := *maxGap
		if gap == 0 {
			gap = 7
		}
		rows, err := engine.CategoryTransitions(ctx, *accountID, gap)
		fatalOn(log, err, "Report failed")
		table.SetHeader([]string{"From", "To", "Count", "Avg Gap (days)"})
		for _, r := range rows {
			table.Append([]string{r.FromCategory, r.ToCategory, strconv.Itoa(r.Count),
				strconv.FormatFloat(r.AvgGapDays, 'f', 1, 64)})
		}

	case "day-of-week":
		rows, err := engine.DayOfWeekProfile(ctx)
		fatalOn(log, err, "Report failed")
		table.SetHeader([]string{"Category", "Weekday", "Count", "Average"})
		for _, r := range rows {
			table.Append([]string{r.Category, r.Weekday, strconv.Itoa(r.Count),
				r.Average.StringFixed(2)})
		}

	case "lineage":
		if *category == "" {
			log.Fatal().Msg("Error: -category is required for lineage")
		}
		chain, err := engine.CategoryLineage(ctx, *category)
		fatalOn(log, err, "Report failed")
		table.SetHeader([]string{"Depth", "Category"})
		for i, name := range chain {
			table.Append([]string{strconv.Itoa(i), name})
		}

	default:
		log.Fatal().Str("kind", *kind).Msg("Unknown report kind")
	}

	table.Render()
}

func runWipe(log zerolog.Logger) {
	fs := flag.NewFlagSet("wipe", flag.ExitOnError)
	fs.String("config", "config.yaml", "Path to YAML config file")
	confirm := fs.String("confirm", "", "Confirmation token; must be "+graph.WipeConfirmToken)
	fs.Parse(os.Args[2:])

	cfg := loadConfig(fs, log)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open graph store")
	}
	defer store.Close()

	if err := store.Clear(ctx, *confirm); err != nil {
		log.Fatal().Err(err).Msg("Wipe failed")
	}
	fmt.Println("All graph data deleted.")
}

func fatalOn(log zerolog.Logger, err error, msg string) {
	if err != nil {
		log.Fatal().Err(err).Msg(msg)
	}
}

// Command report renders spending analytics as PNG charts: a bar chart
// of category spend over a window and a line chart of monthly totals.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/spendgraph/internal/analytics"
	"github.com/dvloznov/spendgraph/internal/config"
	"github.com/dvloznov/spendgraph/internal/graph"
	bqstore "github.com/dvloznov/spendgraph/internal/graph/bigquery"
	"github.com/dvloznov/spendgraph/internal/graph/memory"
	"github.com/dvloznov/spendgraph/internal/graph/sqlite"
	"github.com/dvloznov/spendgraph/internal/logger"
	chart "github.com/wcharczuk/go-chart/v2"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to YAML config file")
		outputDir  = flag.String("out", ".", "Directory for rendered PNG files")
		days       = flag.Int("days", 30, "Window in days for the category chart")
		accountID  = flag.String("account", "", "Restrict the trend chart to one account")
	)
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open graph store")
	}
	defer store.Close()

	engine := analytics.NewEngine(store)

	if err := renderCategoryChart(ctx, engine, *outputDir, *days); err != nil {
		log.Fatal().Err(err).Msg("Failed to render category chart")
	}
	if err := renderTrendChart(ctx, engine, *outputDir, *accountID); err != nil {
		log.Fatal().Err(err).Msg("Failed to render trend chart")
	}
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

func renderCategoryChart(ctx context.Context, engine *analytics.Engine, outputDir string, days int) error {
	rows, err := engine.SpendingByCategory(ctx, days)
	if err != nil {
		return fmt.Errorf("renderCategoryChart: %w", err)
	}
	if len(rows) == 0 {
		fmt.Println("No category spending in window; skipping category chart.")
		return nil
	}

	var bars []chart.Value
	for _, r := range rows {
		bars = append(bars, chart.Value{
			Label: r.Category,
			Value: r.Total.InexactFloat64(),
		})
	}

	barChart := chart.BarChart{
		Title: fmt.Sprintf("Spending by Category (last %d days)", days),
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		Width:  800,
		Height: 400,
		Bars:   bars,
	}
	barChart.YAxis.ValueFormatter = func(v interface{}) string {
		if vf, ok := v.(float64); ok {
			return fmt.Sprintf("%.2f", vf)
		}
		return ""
	}

	outputFile := filepath.Join(outputDir, "category_spend.png")
	f, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("renderCategoryChart: create file: %w", err)
	}
	defer f.Close()

	if err := barChart.Render(chart.PNG, f); err != nil {
		return fmt.Errorf("renderCategoryChart: render: %w", err)
	}
	fmt.Printf("Category chart saved to: %s\n", outputFile)
	return nil
}

func renderTrendChart(ctx context.Context, engine *analytics.Engine, outputDir, accountID string) error {
	rows, err := engine.SpendingTrends(ctx, accountID)
	if err != nil {
		return fmt.Errorf("renderTrendChart: %w", err)
	}
	if len(rows) < 2 {
		fmt.Println("Fewer than two months of data; skipping trend chart.")
		return nil
	}

	// Trends come newest first; the x-axis reads oldest to newest.
	xs := make([]time.Time, 0, len(rows))
	ys := make([]float64, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		month, err := time.Parse("2006-01", rows[i].Month)
		if err != nil {
			return fmt.Errorf("renderTrendChart: parse month %q: %w", rows[i].Month, err)
		}
		xs = append(xs, month)
		ys = append(ys, rows[i].Total.InexactFloat64())
	}

	title := "Monthly Spending"
	if accountID != "" {
		title += " - " + accountID
	}
	lineChart := chart.Chart{
		Title: title,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		Width:  800,
		Height: 400,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatterWithFormat("2006-01"),
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Total",
				XValues: xs,
				YValues: ys,
			},
		},
	}

	outputFile := filepath.Join(outputDir, "monthly_trend.png")
	f, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("renderTrendChart: create file: %w", err)
	}
	defer f.Close()

	if err := lineChart.Render(chart.PNG, f); err != nil {
		return fmt.Errorf("renderTrendChart: render: %w", err)
	}
	fmt.Printf("Trend chart saved to: %s\n", outputFile)
	return nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/bidcheck/bidcheck/internal/models"
	"github.com/bidcheck/bidcheck/internal/types"
	"github.com/bidcheck/bidcheck/pkg/adjudicator"
	cfgPkg "github.com/bidcheck/bidcheck/pkg/config"
	"github.com/bidcheck/bidcheck/pkg/detector"
	"github.com/bidcheck/bidcheck/pkg/store"
	"github.com/bidcheck/bidcheck/server"
)

type Config struct {
	ProjectID  string
	BaseURL    string
	DBUrl      string
	Model      string
	Threshold  float64
	Tolerance  float64
	NoSemantic bool
	NoNumeric  bool

	List           bool
	Stats          bool
	Resolve        string
	Dismiss        string
	User           string
	Resolution     string
	FilterType     string
	FilterSeverity string
	FilterStatus   string

	Serve bool
	Port  string

	file *cfgPkg.Config
}

func main() {
	config := parseFlags()

	if err := run(config); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() Config {
	var config Config
	var configPath string

	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.StringVar(&config.ProjectID, "project", "", "Project ID to operate on")
	flag.StringVar(&config.BaseURL, "ollama-url", os.Getenv("OLLAMA_BASE_URL"), "Ollama server URL")
	flag.StringVar(&config.DBUrl, "db-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	flag.StringVar(&config.Model, "model", "", "Adjudication model to use")
	flag.Float64Var(&config.Threshold, "threshold", 0, "Semantic similarity threshold")
	flag.Float64Var(&config.Tolerance, "tolerance", 0, "Numeric difference tolerance")
	flag.BoolVar(&config.NoSemantic, "no-semantic", false, "Skip semantic conflict detection")
	flag.BoolVar(&config.NoNumeric, "no-numeric", false, "Skip numeric/temporal conflict detection")
	flag.BoolVar(&config.List, "list", false, "List conflicts for the project")
	flag.BoolVar(&config.Stats, "stats", false, "Show conflict stats for the project")
	flag.StringVar(&config.Resolve, "resolve", "", "Conflict ID to mark resolved")
	flag.StringVar(&config.Dismiss, "dismiss", "", "Conflict ID to dismiss")
	flag.StringVar(&config.User, "user", "", "User ID recorded on resolution")
	flag.StringVar(&config.Resolution, "resolution", "", "Resolution note")
	flag.StringVar(&config.FilterType, "type", "", "Filter conflicts by type")
	flag.StringVar(&config.FilterSeverity, "severity", "", "Filter conflicts by severity")
	flag.StringVar(&config.FilterStatus, "status", "", "Filter conflicts by status")
	flag.BoolVar(&config.Serve, "serve", false, "Start the HTTP API server")
	flag.StringVar(&config.Port, "port", "", "HTTP server port")
	flag.Parse()

	cfg, err := cfgPkg.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %v", e)
		}
		os.Exit(1)
	}

	// Flags override file values when provided
	if config.BaseURL == "" {
		config.BaseURL = cfg.LLM.BaseURL
	}
	if config.DBUrl == "" {
		config.DBUrl = cfg.Database.URL
	}
	if config.Model == "" {
		config.Model = cfg.LLM.Model
	}
	if config.Threshold == 0 {
		config.Threshold = cfg.Detection.SemanticThreshold
	}
	if config.Tolerance == 0 {
		config.Tolerance = cfg.Detection.NumericTolerance
	}
	if config.Port == "" {
		config.Port = cfg.Server.Port
	}
	config.file = cfg

	return config
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("pairs"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func run(config Config) error {
	ctx := context.Background()

	st, err := store.NewWithConfig(ctx, store.StoreConfig{
		ConnString:  config.DBUrl,
		TablePrefix: config.file.Database.TablePrefix,
		VectorDim:   config.file.Database.VectorDim,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize store: %v", err)
	}
	defer st.Close()

	engine, err := adjudicator.NewWithConfig(adjudicator.EngineConfig{
		Model:       config.Model,
		BaseURL:     config.BaseURL,
		MaxTokens:   config.file.LLM.MaxTokens,
		Temperature: config.file.LLM.Temperature,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize adjudicator: %v", err)
	}

	detectionConfig := types.DetectionConfig{
		SemanticThreshold:      config.Threshold,
		NumericTolerance:       config.Tolerance,
		AdjudicatorParallelism: config.file.Detection.AdjudicatorParallelism,
		AdjudicatorRateLimit:   config.file.Detection.AdjudicatorRateLimit,
		SnippetLimit:           config.file.Detection.SnippetLimit,
		PairTextLimit:          config.file.Detection.PairTextLimit,
	}

	if config.Serve {
		srv := server.New(st, engine, detectionConfig)
		color.Cyan("Starting conflict engine API on port %s", config.Port)
		return srv.Run(":" + config.Port)
	}

	if config.ProjectID == "" {
		return fmt.Errorf("a -project ID is required")
	}

	switch {
	case config.Resolve != "":
		return updateStatus(ctx, st, config, config.Resolve, models.StatusResolved)
	case config.Dismiss != "":
		return updateStatus(ctx, st, config, config.Dismiss, models.StatusDismissed)
	case config.List:
		return listConflicts(ctx, st, config)
	case config.Stats:
		return showStats(ctx, st, config)
	default:
		return runDetection(ctx, st, engine, detectionConfig, config)
	}
}

func runDetection(ctx context.Context, st *store.Store, engine *adjudicator.Engine, detectionConfig types.DetectionConfig, config Config) error {
	d := detector.NewWithConfig(st, st, st, engine, detectionConfig)

	color.Cyan("\nRunning conflict detection for project %s", config.ProjectID)

	bar := getProgressBar(-1, " Adjudicating candidate pairs...")
	var started int32
	d.OnProgress = func(stage string, done, total int) {
		if stage != "semantic" {
			return
		}
		if atomic.CompareAndSwapInt32(&started, 0, 1) {
			bar.ChangeMax(total)
		}
		bar.Set(done)
	}

	opts := types.DetectionOptions{
		DetectSemantic:    !config.NoSemantic,
		DetectNumeric:     !config.NoNumeric,
		SemanticThreshold: config.Threshold,
	}

	summary, err := d.Run(ctx, config.ProjectID, opts)
	bar.Finish()
	if err != nil {
		return fmt.Errorf("detection failed: %v", err)
	}

	color.Green("\n✓ Detection run %s completed", summary.RunID)
	fmt.Printf("  total:    %d\n", summary.Total)
	fmt.Printf("  semantic: %d\n", summary.Semantic)
	fmt.Printf("  numeric:  %d\n", summary.Numeric)
	fmt.Printf("  temporal: %d\n", summary.Temporal)
	return nil
}

func listConflicts(ctx context.Context, st *store.Store, config Config) error {
	filter := models.ConflictFilter{
		Type:     models.ConflictType(config.FilterType),
		Severity: models.Severity(config.FilterSeverity),
		Status:   models.ConflictStatus(config.FilterStatus),
	}

	conflicts, err := st.ListConflicts(ctx, config.ProjectID, filter)
	if err != nil {
		return fmt.Errorf("failed to list conflicts: %v", err)
	}

	if len(conflicts) == 0 {
		color.Green("No conflicts found")
		return nil
	}

	for _, c := range conflicts {
		severityColor(c.Severity)("[%s] %s %s (%s)\n", strings.ToUpper(string(c.Severity)), c.ID, c.Type, c.Status)
		fmt.Printf("    %s\n", c.Description)
		fmt.Printf("    %s <-> %s\n", c.SourceDocumentID, c.TargetDocumentID)
	}
	return nil
}

func showStats(ctx context.Context, st *store.Store, config Config) error {
	stats, err := st.ConflictStats(ctx, config.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to load stats: %v", err)
	}

	color.Cyan("Conflicts for project %s", config.ProjectID)
	fmt.Printf("  total:    %d\n", stats.Total)
	fmt.Printf("  resolved: %d\n", stats.Resolved)
	fmt.Printf("  pending:  %d\n", stats.Pending)
	for t, n := range stats.ByType {
		fmt.Printf("  %-9s %d\n", t+":", n)
	}
	for s, n := range stats.BySeverity {
		fmt.Printf("  %-9s %d\n", s+":", n)
	}
	return nil
}

func updateStatus(ctx context.Context, st *store.Store, config Config, conflictID string, status models.ConflictStatus) error {
	c, err := st.UpdateConflictStatus(ctx, conflictID, config.ProjectID, status, config.User, config.Resolution)
	if err == store.ErrNotFound {
		return fmt.Errorf("no open conflict %s in project %s", conflictID, config.ProjectID)
	}
	if err != nil {
		return fmt.Errorf("failed to update conflict: %v", err)
	}

	color.Green("✓ Conflict %s marked %s", c.ID, c.Status)
	return nil
}

func severityColor(s models.Severity) func(format string, a ...interface{}) {
	switch s {
	case models.SeverityCritical, models.SeverityHigh:
		return color.New(color.FgRed).PrintfFunc()
	case models.SeverityMedium:
		return color.New(color.FgYellow).PrintfFunc()
	default:
		return color.New(color.FgWhite).PrintfFunc()
	}
}

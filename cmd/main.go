package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/ursadsp/dspgen/internal/models"
	"github.com/ursadsp/dspgen/internal/types"
	"github.com/ursadsp/dspgen/pkg/assembler"
	cfgPkg "github.com/ursadsp/dspgen/pkg/config"
	"github.com/ursadsp/dspgen/pkg/corpus"
	"github.com/ursadsp/dspgen/pkg/llm"
	"github.com/ursadsp/dspgen/pkg/render"
	"github.com/ursadsp/dspgen/pkg/retrieval"
	"github.com/ursadsp/dspgen/pkg/schema"
	"github.com/ursadsp/dspgen/pkg/store"
	"github.com/ursadsp/dspgen/pkg/synth"
)

var errSummaryNotFound = errors.New("summary not found")

type Config struct {
	Summary      string
	ProjectName  string
	Template     string
	CorpusDir    string
	BaseURL      string
	Model        string
	DBUrl        string
	OutDir       string
	RetrievalK   int
	Strategy     string
	Concurrency  int
	RetryLimit   int
	AllowPartial bool
	MaxTokens    int
	Temperature  float64
	Timeout      time.Duration
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
	flag.StringVar(&config.Summary, "summary", "", "Project summary: file path, raw text, '-' for stdin, or a project name")
	flag.StringVar(&config.ProjectName, "project-name", "", "Project name for the generated plan")
	flag.StringVar(&config.Template, "template", "", "YAML section template overriding the built-in plan structure")
	flag.StringVar(&config.CorpusDir, "corpus-dir", os.Getenv("DSP_CORPUS_DIR"), "Directory of approved reference plans")
	flag.StringVar(&config.BaseURL, "ollama-url", os.Getenv("OLLAMA_BASE_URL"), "Ollama server URL")
	flag.StringVar(&config.Model, "model", "", "LLM model to use")
	flag.StringVar(&config.DBUrl, "db-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string for the plan archive")
	flag.StringVar(&config.OutDir, "out", "", "Directory for generated artifacts")
	flag.IntVar(&config.RetrievalK, "k", 0, "Reference fragments retrieved per section")
	flag.StringVar(&config.Strategy, "strategy", "", "Retrieval strategy: overlap or embedding")
	flag.IntVar(&config.Concurrency, "concurrency", 0, "Maximum concurrent section generations")
	flag.IntVar(&config.RetryLimit, "retry-limit", 0, "Retries for transient generation failures")
	flag.BoolVar(&config.AllowPartial, "allow-partial", true, "Render a partial plan when sections fail")
	flag.IntVar(&config.MaxTokens, "max-tokens", 0, "Maximum tokens for LLM response")
	flag.Float64Var(&config.Temperature, "temperature", -1, "Set the LLM temperature (-1 uses the config value)")
	flag.DurationVar(&config.Timeout, "timeout", 30*time.Minute, "Overall run timeout")
	flag.Parse()

	// Load config file for anything not set on the command line
	if cfg, err := cfgPkg.LoadConfig(configPath); err == nil {
		if config.BaseURL == "" {
			config.BaseURL = cfg.LLM.BaseURL
		}
		if config.Model == "" {
			config.Model = cfg.LLM.Model
		}
		if config.MaxTokens == 0 {
			config.MaxTokens = cfg.LLM.MaxTokens
		}
		if config.Temperature < 0 {
			config.Temperature = *cfg.LLM.Temperature
		}
		if config.RetryLimit == 0 {
			config.RetryLimit = cfg.LLM.RetryLimit
		}
		if config.CorpusDir == "" {
			config.CorpusDir = cfg.Corpus.Dir
		}
		if config.RetrievalK == 0 {
			config.RetrievalK = cfg.Retrieval.K
		}
		if config.Strategy == "" {
			config.Strategy = cfg.Retrieval.Strategy
		}
		if config.Concurrency == 0 {
			config.Concurrency = cfg.Pipeline.MaxConcurrency
		}
		if config.DBUrl == "" {
			config.DBUrl = cfg.Archive.URL
		}
		if config.OutDir == "" {
			config.OutDir = cfg.Output.Dir
		}
		// Booleans cannot signal "unset" through their zero value; the
		// config file wins unless the flag was passed explicitly.
		allowPartialSet := false
		flag.Visit(func(f *flag.Flag) {
			if f.Name == "allow-partial" {
				allowPartialSet = true
			}
		})
		if !allowPartialSet {
			config.AllowPartial = *cfg.Pipeline.AllowPartial
		}
	}
	if config.Temperature < 0 {
		config.Temperature = 0.2
	}

	return config
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("sections"),
		progressbar.OptionShowCount(),
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
		progressbar.OptionSetRenderBlankState(true),
	)
}

func run(config Config) error {
	if config.Summary == "" {
		return fmt.Errorf("a project summary is required (-summary)")
	}

	summary, err := resolveSummary(config.Summary)
	if err != nil {
		return err
	}

	projectName := config.ProjectName
	if projectName == "" {
		projectName = guessProjectName(config.Summary)
	}

	registry := schema.Default()
	if config.Template != "" {
		registry, err = schema.LoadFile(config.Template)
		if err != nil {
			return fmt.Errorf("failed to load section template: %v", err)
		}
	}

	var scorer retrieval.Scorer
	if config.Strategy == "embedding" {
		scorer, err = retrieval.NewEmbeddingScorer(retrieval.EmbedConfig{BaseURL: config.BaseURL})
		if err != nil {
			return fmt.Errorf("failed to initialize embedding scorer: %v", err)
		}
	}
	selector := retrieval.NewWithConfig(retrieval.SelectorConfig{
		K:      config.RetrievalK,
		Scorer: scorer,
	})

	generator, err := llm.NewWithConfig(llm.GeneratorConfig{
		Model:       config.Model,
		MaxTokens:   config.MaxTokens,
		BaseURL:     config.BaseURL,
		Temperature: config.Temperature,
		RetryLimit:  config.RetryLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize generation client: %v", err)
	}

	specs, err := registry.Specs()
	if err != nil {
		return err
	}

	var completed int32
	bar := getProgressBar(len(specs), " Generating Data Security Plan...")

	asm, err := assembler.NewWithConfig(assembler.AssemblerConfig{
		Registry:    registry,
		Corpus:      corpus.New(config.CorpusDir),
		Selector:    selector,
		Synthesizer: synth.New(generator, registry),
		Generator:   generator,
		ProjectName: projectName,
		Model:       generator.Model(),
		OnProgress: func(sectionID string, status models.SectionStatus) {
			atomic.AddInt32(&completed, 1)
			bar.Set(int(atomic.LoadInt32(&completed)))
		},
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	color.Cyan("\nGenerating Data Security Plan for %s (%d sections)\n", projectName, len(specs))

	doc, status, runErr := asm.Generate(ctx, summary, assembler.Options{
		MaxConcurrency: config.Concurrency,
		RetrievalK:     config.RetrievalK,
		RetryLimit:     config.RetryLimit,
		AllowPartial:   config.AllowPartial,
	})
	bar.Finish()
	fmt.Println()

	for _, section := range doc.Sections {
		switch section.Status {
		case models.SectionValid:
			color.Green("✓ %s", section.Title)
		case models.SectionFailed:
			color.Red("✗ %s: %s", section.Title, section.Reason)
		default:
			color.Yellow("- %s: %s", section.Title, section.Reason)
		}
	}

	switch status {
	case models.RunComplete:
		color.Green("\nRun complete")
	case models.RunPartial:
		color.Yellow("\nRun partial: review failed sections before submitting")
	default:
		color.Red("\nRun failed")
	}

	if status == models.RunFailed {
		if runErr != nil {
			return runErr
		}
		return fmt.Errorf("generation failed")
	}
	if status == models.RunPartial && !config.AllowPartial {
		if runErr != nil {
			return runErr
		}
		return fmt.Errorf("partial output rejected (-allow-partial=false)")
	}

	if err := writeArtifacts(config.OutDir, projectName, doc); err != nil {
		return err
	}

	if config.DBUrl != "" && status == models.RunComplete {
		archive, err := store.NewWithConfig(store.ArchiveConfig{
			ConnString:   config.DBUrl,
			EmbedBaseURL: config.BaseURL,
		})
		if err != nil {
			color.Red("Archive unavailable: %v", err)
		} else {
			archiveDocument(ctx, archive, doc)
		}
	}

	if runErr != nil {
		return runErr
	}
	return nil
}

// resolveSummary accepts a file path, a project name following the
// projects/NAME/Summary.md convention, "-" for stdin, or raw summary text.
func resolveSummary(identifier string) (string, error) {
	if identifier == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read summary from stdin: %v", err)
		}
		return string(data), nil
	}

	if info, err := os.Stat(identifier); err == nil && !info.IsDir() {
		data, err := os.ReadFile(identifier)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	conventional := filepath.Join("projects", identifier, "Summary.md")
	if _, err := os.Stat(conventional); err == nil {
		data, err := os.ReadFile(conventional)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	// Raw text summaries contain whitespace; bare identifiers do not.
	if strings.ContainsAny(identifier, " \n") {
		return identifier, nil
	}

	return "", fmt.Errorf("%w: %s", errSummaryNotFound, identifier)
}

func guessProjectName(identifier string) string {
	if identifier == "-" || strings.ContainsAny(identifier, " \n") {
		return "Research Project"
	}
	base := filepath.Base(identifier)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// archiveDocument stores a completed plan and reports the outcome on the
// console. Archiving is best effort; a failure never fails the run.
func archiveDocument(ctx context.Context, archive types.Archiver, doc models.DocumentModel) {
	defer archive.Close()
	if err := archive.Store(ctx, doc); err != nil {
		color.Red("Failed to archive plan: %v", err)
		return
	}
	color.Green("✓ Plan archived")
}

func writeArtifacts(outDir, projectName string, doc models.DocumentModel) error {
	if outDir == "" {
		outDir = filepath.Join("projects", projectName)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %v", err)
	}

	html, err := render.HTML(doc)
	if err != nil {
		return err
	}
	htmlPath := filepath.Join(outDir, projectName+"_dsp.html")
	if err := os.WriteFile(htmlPath, html, 0o644); err != nil {
		return fmt.Errorf("failed to write HTML: %v", err)
	}

	logData, err := render.JSONLog(doc)
	if err != nil {
		return err
	}
	logPath := filepath.Join(outDir, projectName+"_dsp_log.json")
	if err := os.WriteFile(logPath, logData, 0o644); err != nil {
		return fmt.Errorf("failed to write JSON log: %v", err)
	}

	color.Green("✓ Wrote %s", htmlPath)
	color.Green("✓ Wrote %s", logPath)
	return nil
}

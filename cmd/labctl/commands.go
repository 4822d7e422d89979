package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"labscope/config"
	"labscope/llm"
	"labscope/ocr"
	"labscope/providers"
	"labscope/providers/generative"
	"labscope/providers/kb"
	"labscope/providers/rag"
	"labscope/services"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	kbPath    string
	ragDir    string
	tiers     string
	ocrEngine string
	verbose   bool
	outPath   string

	analyzeAge  int
	analyzeSex  string
	analyzeName string
)

var rootCmd = &cobra.Command{
	Use:   "labctl",
	Short: "Offline analysis of lab report PDFs",
	Long: `labctl runs the labscope pipeline without the HTTP server:
extraction, name resolution, unit normalization, reference lookup and classification.`,
	SilenceUsage: true,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <report.pdf>",
	Short: "Analyze a lab report and print the report JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

var extractCmd = &cobra.Command{
	Use:   "extract <report.pdf>",
	Short: "Print the raw rows extracted from a lab report",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtract,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <name>...",
	Short: "Show how test names resolve against the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runResolve,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&kbPath, "kb", "", "knowledge base file (JSON or YAML), default is the embedded KB")
	rootCmd.PersistentFlags().StringVar(&ragDir, "rag-dir", ".rag_data", "directory of the retrieval store")
	rootCmd.PersistentFlags().StringVar(&tiers, "providers", "kb,rag", "lookup tiers in order (kb, rag, generative)")
	rootCmd.PersistentFlags().StringVar(&ocrEngine, "ocr", "none", "OCR engine for scanned PDFs (none, tesseract)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&outPath, "output", "o", "", "write JSON to this file instead of stdout")

	analyzeCmd.Flags().IntVar(&analyzeAge, "age", 0, "patient age in years (0 = default age)")
	analyzeCmd.Flags().StringVar(&analyzeSex, "sex", "", "patient sex (male, female)")
	analyzeCmd.Flags().StringVar(&analyzeName, "name", "", "report name")

	rootCmd.AddCommand(analyzeCmd, extractCmd, resolveCmd)
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return cfg.Build()
}

// pipeline baut Resolver, Lookup-Kette und Extraktor aus den Flags.
type pipeline struct {
	kb        *kb.KB
	resolver  *services.NameResolver
	extractor *services.Extractor
	analyzer  *services.Analyzer
}

func buildPipeline(ctx context.Context, logger *zap.Logger) (*pipeline, error) {
	knowledge, err := kb.Load(kbPath, logger)
	if err != nil {
		return nil, err
	}
	store, err := rag.NewStore(ctx, rag.FileBackend{Dir: ragDir}, logger)
	if err != nil {
		return nil, err
	}

	// LLM-Zugang nur über die Umgebung, wie beim Server
	var client llm.Client
	var timeout time.Duration
	if cfg, err := config.Load(); err == nil {
		timeout = cfg.LLMTimeout
		client, err = llm.New(ctx, cfg, logger)
		if err != nil && !errors.Is(err, llm.ErrNotConfigured) {
			return nil, err
		}
	}

	var chain []providers.Provider
	for _, name := range strings.Split(tiers, ",") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "kb":
			chain = append(chain, kb.NewProvider(knowledge))
		case "rag":
			chain = append(chain, rag.NewProvider(store))
		case "generative":
			chain = append(chain, generative.NewProvider(client, store, timeout, logger))
		case "":
		default:
			return nil, fmt.Errorf("unknown provider %q", name)
		}
	}
	if len(chain) == 0 {
		return nil, errors.New("no providers enabled")
	}

	engine, err := ocr.New(ocrEngine, logger)
	if err != nil {
		return nil, err
	}
	resolver := services.NewNameResolver(knowledge)
	extractor := services.NewExtractor(engine, logger)
	analyzer := services.NewAnalyzer(extractor, resolver, services.NewLookupChain(logger, chain...), services.Classifier{}, logger)
	if client != nil {
		analyzer.Narrator = services.NewLLMNarrator(client, timeout, logger)
	}
	return &pipeline{kb: knowledge, resolver: resolver, extractor: extractor, analyzer: analyzer}, nil
}

func writeJSON(w io.Writer, v any) error {
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", outPath, err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	p, err := buildPipeline(ctx, logger)
	if err != nil {
		return err
	}
	req := services.AnalyzeRequest{Data: data, Filename: args[0], Sex: analyzeSex, ReportName: analyzeName}
	if analyzeAge > 0 {
		req.Age = &analyzeAge
	}
	return writeJSON(cmd.OutOrStdout(), p.analyzer.Analyze(ctx, req))
}

func runExtract(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	engine, err := ocr.New(ocrEngine, logger)
	if err != nil {
		return err
	}
	ex := services.NewExtractor(engine, logger).Extract(cmd.Context(), data)
	if ex.Err != nil {
		return ex.Err
	}
	return writeJSON(cmd.OutOrStdout(), map[string]any{
		"strategy":   ex.Strategy,
		"confidence": ex.Confidence,
		"ocr_used":   ex.OCRUsed,
		"rows":       ex.Rows,
		"warnings":   ex.Warnings,
	})
}

type resolution struct {
	Input      string `json:"input"`
	Normalized string `json:"normalized"`
	Key        string `json:"key,omitempty"`
	Title      string `json:"title,omitempty"`
	Found      bool   `json:"found"`
}

func runResolve(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	knowledge, err := kb.Load(kbPath, logger)
	if err != nil {
		return err
	}
	resolver := services.NewNameResolver(knowledge)
	out := make([]resolution, 0, len(args))
	for _, name := range args {
		r := resolution{Input: name, Normalized: services.NormalizeTestName(name)}
		if key, ok := resolver.Resolve(r.Normalized); ok {
			r.Key, r.Title, r.Found = key, services.TitleFromKey(key), true
		}
		out = append(out, r)
	}
	return writeJSON(cmd.OutOrStdout(), out)
}

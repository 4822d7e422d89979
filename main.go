package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
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
	"labscope/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var prunedReportsCounter prometheus.Counter

func init() {
	prunedReportsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "labscope_reports_pruned_total",
			Help: "Anzahl der durch die Aufbewahrungsfrist gelöschten Reports.",
		},
	)
	prometheus.MustRegister(prunedReportsCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" || c.Request.URL.Path == "/metrics" || c.Request.URL.Path == "/healthz" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

// app bündelt die verdrahteten Komponenten des Servers.
type app struct {
	cfg       *config.Config
	kb        *kb.KB
	resolver  *services.NameResolver
	extractor *services.Extractor
	analyzer  *services.Analyzer
	reports   storage.ReportStore
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	ctx := context.Background()
	a, err := buildApp(ctx, cfg, logging)
	if err != nil {
		logging.Fatal("Setup failed", zap.Error(err))
	}

	router := newRouter(a, logging)

	// Setup Cron
	cronScheduler := cron.New()
	if cfg.ReportRetentionDays > 0 {
		_, err := cronScheduler.AddFunc(cfg.RetentionSchedule, func() {
			logging.Info("Running scheduled retention job...")
			count, err := pruneReports(context.Background(), a.reports, cfg.ReportRetentionDays, time.Now())
			if err != nil {
				logging.Error("Retention job failed", zap.Error(err))
				return
			}
			logging.Info("Retention job completed", zap.Int("pruned_reports", count))
			prunedReportsCounter.Add(float64(count))
		})
		if err != nil {
			logging.Fatal("Invalid RETENTION_SCHEDULE", zap.Error(err))
		}
	}
	cronScheduler.Start()
	defer cronScheduler.Stop()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

// buildApp verdrahtet KB, Retrieval-Store, Lookup-Kette, Speicher und Analyzer gemäß Konfiguration.
func buildApp(ctx context.Context, cfg *config.Config, logging *zap.Logger) (*app, error) {
	knowledge, err := kb.Load(cfg.KBPath, logging)
	if err != nil {
		return nil, err
	}
	logging.Info("Knowledge base ready", zap.Int("entries", knowledge.Len()))

	var db *gorm.DB
	if cfg.UsesPostgres() {
		db, err = storage.OpenPostgres(cfg)
		if err != nil {
			return nil, err
		}
		logging.Info("Successfully connected to database.")
	}

	var backend rag.Backend = rag.FileBackend{Dir: cfg.RAGDir}
	if strings.EqualFold(cfg.RAGBackend, "postgres") {
		backend = storage.NewGormRangeDocBackend(db)
	}
	ragStore, err := rag.NewStore(ctx, backend, logging)
	if err != nil {
		return nil, fmt.Errorf("retrieval store: %w", err)
	}

	var reports storage.ReportStore
	if strings.EqualFold(cfg.ReportStore, "postgres") {
		reports = storage.NewGormReportStore(db)
	} else {
		reports, err = storage.NewMemoryReportStore(cfg.ReportsPath, logging)
		if err != nil {
			return nil, fmt.Errorf("report store: %w", err)
		}
	}

	client, err := llm.New(ctx, cfg, logging)
	if err != nil {
		if !errors.Is(err, llm.ErrNotConfigured) {
			return nil, err
		}
		logging.Warn("No LLM configured, generative lookup and narratives disabled")
		client = nil
	}

	var tiers []providers.Provider
	for _, name := range cfg.Providers() {
		switch name {
		case "kb":
			tiers = append(tiers, kb.NewProvider(knowledge))
		case "rag":
			tiers = append(tiers, rag.NewProvider(ragStore))
		case "generative":
			tiers = append(tiers, generative.NewProvider(client, ragStore, cfg.LLMTimeout, logging))
		default:
			logging.Warn("Unknown provider in config", zap.String("provider_name", name))
		}
	}
	if len(tiers) == 0 {
		return nil, errors.New("no valid providers enabled, check ENABLED_PROVIDERS")
	}
	chain := services.NewLookupChain(logging, tiers...)
	logging.Info("Active providers loaded", zap.Strings("providers", chain.Tiers()))

	engine, err := ocr.New(cfg.OCREngine, logging)
	if err != nil {
		return nil, err
	}
	resolver := services.NewNameResolver(knowledge)
	extractor := services.NewExtractor(engine, logging)
	analyzer := services.NewAnalyzer(extractor, resolver, chain, services.Classifier{BorderlineTolerance: cfg.BorderlineTolerance}, logging)
	analyzer.DefaultAge = cfg.DefaultAge
	analyzer.Version = cfg.AnalyzerVersion
	analyzer.Store = reports
	if client != nil {
		analyzer.Narrator = services.NewLLMNarrator(client, cfg.LLMTimeout, logging)
	}
	if cfg.ArchivePDFs {
		s3Client, err := storage.NewS3Client(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("S3 client creation failed: %w", err)
		}
		analyzer.Archive = storage.NewPDFArchive(s3Client, cfg.S3Bucket)
	}

	return &app{
		cfg:       cfg,
		kb:        knowledge,
		resolver:  resolver,
		extractor: extractor,
		analyzer:  analyzer,
		reports:   reports,
	}, nil
}

func newRouter(a *app, logging *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(apiKeyAuthMiddleware(a.cfg))
	router.MaxMultipartMemory = int64(a.cfg.MaxUploadMB) << 20
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	setupAnalyzeRoutes(router, a, logging)
	setupReportRoutes(router, a.reports, logging)
	setupKBRoutes(router, a)
	return router
}

// readUpload liest die Datei aus dem Formularfeld "file" mit Größenlimit.
func readUpload(c *gin.Context, maxMB int) ([]byte, string, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, "", errors.New("file is required")
	}
	limit := int64(maxMB) << 20
	if fh.Size > limit {
		return nil, "", fmt.Errorf("file exceeds %d MB", maxMB)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("file exceeds %d MB", maxMB)
	}
	return data, fh.Filename, nil
}

func setupAnalyzeRoutes(router *gin.Engine, a *app, log *zap.Logger) {
	rg := router.Group("/api")

	rg.POST("/analyze", func(c *gin.Context) {
		data, filename, err := readUpload(c, a.cfg.MaxUploadMB)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req := services.AnalyzeRequest{
			Data:       data,
			Filename:   filename,
			Sex:        strings.ToLower(strings.TrimSpace(c.PostForm("sex"))),
			ReportName: strings.TrimSpace(c.PostForm("report_name")),
		}
		switch req.Sex {
		case "", "male", "female", "any":
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "sex must be male or female"})
			return
		}
		if raw := strings.TrimSpace(c.PostForm("age")); raw != "" {
			age, err := strconv.Atoi(raw)
			if err != nil || age < 0 || age > 130 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "age must be an integer between 0 and 130"})
				return
			}
			req.Age = &age
		}
		report := a.analyzer.Analyze(c.Request.Context(), req)
		log.Info("Report analyzed",
			zap.String("report_id", report.ID),
			zap.String("status", report.Status),
			zap.Int("results", len(report.Results)))
		c.JSON(http.StatusOK, report)
	})

	// Debug-Endpunkt: nur Extraktion, keine Auflösung und keine Speicherung
	rg.POST("/extract", func(c *gin.Context) {
		data, _, err := readUpload(c, a.cfg.MaxUploadMB)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ex := a.extractor.Extract(c.Request.Context(), data)
		resp := gin.H{
			"strategy":   ex.Strategy,
			"confidence": ex.Confidence,
			"ocr_used":   ex.OCRUsed,
			"rows":       ex.Rows,
			"clean":      ex.Clean,
			"warnings":   ex.Warnings,
		}
		if ex.Err != nil {
			resp["error"] = ex.Err.Error()
		}
		c.JSON(http.StatusOK, resp)
	})
}

func setupReportRoutes(router *gin.Engine, store storage.ReportStore, log *zap.Logger) {
	rg := router.Group("/api")

	rg.GET("/reports", func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
		items, total, err := store.List(c.Request.Context(), page, pageSize)
		if err != nil {
			log.Error("Listing reports failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
			return
		}
		if page < 1 {
			page = 1
		}
		if pageSize < 1 {
			pageSize = 20
		}
		c.JSON(http.StatusOK, gin.H{"items": items, "page": page, "page_size": pageSize, "total": total})
	})

	rg.GET("/report/:id", func(c *gin.Context) {
		report, err := store.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, storage.ErrReportNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "report_not_found"})
				return
			}
			log.Error("Loading report failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
			return
		}
		c.JSON(http.StatusOK, report)
	})

	rg.DELETE("/report/:id", func(c *gin.Context) {
		id := c.Param("id")
		if err := store.Delete(c.Request.Context(), id); err != nil {
			if errors.Is(err, storage.ErrReportNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "report_not_found"})
				return
			}
			log.Error("Deleting report failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": id})
	})
}

func setupKBRoutes(router *gin.Engine, a *app) {
	rg := router.Group("/api/kb")

	// Zeigt, wie ein Rohname aufgelöst wird
	rg.GET("/resolve", func(c *gin.Context) {
		name := strings.TrimSpace(c.Query("name"))
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}
		normalized := services.NormalizeTestName(name)
		key, found := a.resolver.Resolve(normalized)
		resp := gin.H{"input": name, "normalized": normalized, "key": key, "found": found}
		if found {
			if entry, ok := a.kb.Get(key); ok {
				resp["title"] = services.TitleFromKey(key)
				resp["entry"] = entry
			}
		}
		c.JSON(http.StatusOK, resp)
	})
}

// pruneReports löscht Reports, die älter als days Tage sind.
func pruneReports(ctx context.Context, store storage.ReportStore, days int, now time.Time) (int, error) {
	if days <= 0 {
		return 0, nil
	}
	return store.Prune(ctx, now.AddDate(0, 0, -days))
}

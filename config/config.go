package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	HTTPPort     string `envconfig:"HTTP_PORT" default:"8080"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`
	MaxUploadMB  int    `envconfig:"MAX_UPLOAD_MB" default:"20"`

	// Datenbank, nur nötig wenn REPORT_STORE oder RAG_BACKEND auf postgres steht
	DBHost     string `envconfig:"DB_HOST"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME"`

	KBPath      string `envconfig:"KB_PATH"`
	RAGDir      string `envconfig:"RAG_DIR" default:".rag_data"`
	RAGBackend  string `envconfig:"RAG_BACKEND" default:"file"`
	ReportStore string `envconfig:"REPORT_STORE" default:"memory"`
	ReportsPath string `envconfig:"REPORTS_PATH" default:"reports.json"`

	// Lookup-Kette in Reihenfolge
	EnabledProviders string `envconfig:"ENABLED_PROVIDERS" default:"kb,rag,generative"`

	LLMProvider  string        `envconfig:"LLM_PROVIDER" default:"groq"`
	GroqAPIKey   string        `envconfig:"GROQ_API_KEY"`
	GroqBaseURL  string        `envconfig:"GROQ_BASE_URL" default:"https://api.groq.com/openai/v1"`
	GroqModel    string        `envconfig:"GROQ_MODEL" default:"llama-3.3-70b-versatile"`
	GeminiAPIKey string        `envconfig:"GEMINI_API_KEY"`
	GeminiModel  string        `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	LLMTimeout   time.Duration `envconfig:"LLM_TIMEOUT" default:"20s"`

	OCREngine string `envconfig:"OCR_ENGINE" default:"none"`

	ArchivePDFs bool   `envconfig:"ARCHIVE_PDFS" default:"false"`
	S3Key       string `envconfig:"S3_KEY"`
	S3Secret    string `envconfig:"S3_SECRET"`
	S3URL       string `envconfig:"S3_URL"`
	S3Region    string `envconfig:"S3_REGION" default:"eu-central-1"`
	S3Bucket    string `envconfig:"S3_BUCKET"`

	RetentionSchedule   string `envconfig:"RETENTION_SCHEDULE" default:"0 3 * * *"`
	ReportRetentionDays int    `envconfig:"REPORT_RETENTION_DAYS" default:"0"`

	// 0 = drei Stufen (low/normal/high), >0 = fünf Stufen mit borderline-Toleranz
	BorderlineTolerance float64 `envconfig:"BORDERLINE_TOLERANCE" default:"0"`
	DefaultAge          int     `envconfig:"DEFAULT_AGE" default:"30"`
	AnalyzerVersion     string  `envconfig:"ANALYZER_VERSION" default:"v2.0.0"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// Providers liefert die aktivierten Lookup-Stufen in konfigurierter Reihenfolge.
func (c *Config) Providers() []string {
	var out []string
	for _, name := range strings.Split(c.EnabledProviders, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// UsesPostgres meldet, ob irgendeine Komponente eine Datenbank braucht.
func (c *Config) UsesPostgres() bool {
	return c.ReportStore == "postgres" || c.RAGBackend == "postgres"
}

// Validate prüft Abhängigkeiten zwischen Feldern, die envconfig nicht ausdrücken kann.
func (c *Config) Validate() error {
	var errs []error
	if c.UsesPostgres() && (c.DBHost == "" || c.DBUser == "" || c.DBName == "") {
		errs = append(errs, errors.New("DB_HOST, DB_USER and DB_NAME are required for postgres backends"))
	}
	if c.ArchivePDFs && (c.S3URL == "" || c.S3Bucket == "" || c.S3Key == "" || c.S3Secret == "") {
		errs = append(errs, errors.New("S3_URL, S3_BUCKET, S3_KEY and S3_SECRET are required when ARCHIVE_PDFS is set"))
	}
	switch c.ReportStore {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown REPORT_STORE %q", c.ReportStore))
	}
	switch c.RAGBackend {
	case "file", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown RAG_BACKEND %q", c.RAGBackend))
	}
	if c.BorderlineTolerance < 0 || c.BorderlineTolerance >= 1 {
		errs = append(errs, fmt.Errorf("BORDERLINE_TOLERANCE must be in [0,1), got %v", c.BorderlineTolerance))
	}
	return errors.Join(errs...)
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, c.Validate()
}

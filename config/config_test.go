package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", c.HTTPPort)
	assert.Equal(t, "memory", c.ReportStore)
	assert.Equal(t, []string{"kb", "rag", "generative"}, c.Providers())
	assert.False(t, c.UsesPostgres())
	assert.Equal(t, 30, c.DefaultAge)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ENABLED_PROVIDERS", " KB , ,generative")
	t.Setenv("BORDERLINE_TOLERANCE", "0.05")
	t.Setenv("LLM_TIMEOUT", "5s")
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"kb", "generative"}, c.Providers())
	assert.Equal(t, 0.05, c.BorderlineTolerance)
	assert.Equal(t, "5s", c.LLMTimeout.String())
}

func TestValidate(t *testing.T) {
	c := &Config{ReportStore: "postgres", RAGBackend: "file", ArchivePDFs: true, BorderlineTolerance: 1}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_HOST")
	assert.Contains(t, err.Error(), "S3_URL")
	assert.Contains(t, err.Error(), "BORDERLINE_TOLERANCE")

	c = &Config{ReportStore: "redis", RAGBackend: "sqlite"}
	err = c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown REPORT_STORE "redis"`)
	assert.Contains(t, err.Error(), `unknown RAG_BACKEND "sqlite"`)

	c = &Config{ReportStore: "postgres", RAGBackend: "postgres", DBHost: "db", DBUser: "lab", DBName: "labscope"}
	assert.NoError(t, c.Validate())
	assert.Equal(t, "host=db user=lab password= dbname=labscope port=0 sslmode=disable", c.DSN())
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() *AppConfig {
	cfg := &AppConfig{}
	cfg.VectorStore.Provider = "qdrant"
	cfg.VectorStore.Qdrant.VectorSize = 768
	cfg.Embedding.Provider = "ollama"
	cfg.Embedding.Ollama = ProviderConfig{
		Model:      "nomic-embed-text",
		Dimensions: 768,
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidateAcceptsMatchingDimensions(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidateRejectsDimensionMismatch(t *testing.T) {
	cfg := validConfig()
	cfg.VectorStore.Qdrant.VectorSize = 1536

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected dimension mismatch error, got nil")
	}
	for _, want := range []string{"1536", "768", "ollama", "nomic-embed-text"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err.Error(), want)
		}
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := validConfig()
	cfg.Embedding.Provider = "cohere"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown embedding provider")
	}

	cfg = validConfig()
	cfg.VectorStore.Provider = "milvus"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown vector store provider")
	}
}

func TestValidateRejectsOverlapBeyondCharacterLimit(t *testing.T) {
	cfg := validConfig()
	cfg.Chunking.CharacterLimit = 100
	cfg.Chunking.Overlap = 100
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when overlap reaches the character limit")
	}
}

func TestValidateRejectsMalformedExtension(t *testing.T) {
	cfg := validConfig()
	cfg.Knowledge.Extensions = []string{"docx"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for extension without a leading dot")
	}

	cfg = validConfig()
	cfg.Knowledge.Extensions = []string{".DOCX"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for uppercase extension")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &AppConfig{}
	cfg.ApplyDefaults()

	if cfg.Chunking.CharacterLimit != DefaultChunkCharacterLimit {
		t.Errorf("characterLimit default = %d, want %d", cfg.Chunking.CharacterLimit, DefaultChunkCharacterLimit)
	}
	if cfg.Chunking.LineTokens != DefaultChunkLineTokens {
		t.Errorf("lineTokens default = %d, want %d", cfg.Chunking.LineTokens, DefaultChunkLineTokens)
	}
	if cfg.Chunking.ParagraphTokens != DefaultChunkParagraphTokens {
		t.Errorf("paragraphTokens default = %d, want %d", cfg.Chunking.ParagraphTokens, DefaultChunkParagraphTokens)
	}
	if cfg.Chunking.Overlap != DefaultChunkOverlap {
		t.Errorf("overlap default = %d, want %d", cfg.Chunking.Overlap, DefaultChunkOverlap)
	}
	if len(cfg.Knowledge.Extensions) != 4 {
		t.Errorf("default extensions = %v, want 4 entries", cfg.Knowledge.Extensions)
	}
	if cfg.VectorStore.Qdrant.DistanceMetric != "Cosine" {
		t.Errorf("qdrant distance default = %q, want Cosine", cfg.VectorStore.Qdrant.DistanceMetric)
	}
}

func TestLoadConfig(t *testing.T) {
	yamlBody := `
app:
  name: "knowledge-service"
  environment: "test"
vectorStore:
  provider: "qdrant"
  qdrant:
    host: "localhost"
    vectorSize: 768
embedding:
  provider: "ollama"
  ollama:
    model: "nomic-embed-text"
    dimensions: 768
    minRelevanceScore: 0.6
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.App.Name != "knowledge-service" {
		t.Errorf("app name = %q", cfg.App.Name)
	}
	if cfg.Embedding.Ollama.MinRelevanceScore != 0.6 {
		t.Errorf("minRelevanceScore = %v, want 0.6", cfg.Embedding.Ollama.MinRelevanceScore)
	}
	// Defaults must be applied by LoadConfig.
	if cfg.Chunking.CharacterLimit != DefaultChunkCharacterLimit {
		t.Errorf("characterLimit = %d, want default", cfg.Chunking.CharacterLimit)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

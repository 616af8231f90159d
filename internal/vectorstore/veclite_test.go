package vectorstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type stubProvider struct {
	dimensions int
}

func (p *stubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	emb := make([]float32, p.dimensions)
	for i := range emb {
		emb[i] = float32((len(text)+i)%97) / 97.0
	}
	return emb, nil
}

func (p *stubProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, _ := p.Embed(ctx, text)
		results[i] = emb
	}
	return results, nil
}

func (p *stubProvider) Model() string { return "stub" }

func (p *stubProvider) Dimensions() int { return p.dimensions }

func (p *stubProvider) Ping(ctx context.Context) error { return nil }

func writeArtifacts(t *testing.T, dir string, index, manifest []byte) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if index != nil {
		if err := os.WriteFile(filepath.Join(dir, IndexFile), index, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if manifest != nil {
		if err := os.WriteFile(filepath.Join(dir, ManifestFile), manifest, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestExists(t *testing.T) {
	b := NewVecLiteBackend(&stubProvider{dimensions: 8})

	tests := []struct {
		name     string
		index    []byte
		manifest []byte
		want     bool
	}{
		{"both present", []byte("data"), []byte(`{}`), true},
		{"index missing", nil, []byte(`{}`), false},
		{"manifest missing", []byte("data"), nil, false},
		{"index empty", []byte{}, []byte(`{}`), false},
		{"manifest empty", []byte("data"), []byte{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeArtifacts(t, dir, tt.index, tt.manifest)
			if got := b.Exists(dir); got != tt.want {
				t.Errorf("Exists = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExists_NoDirectory(t *testing.T) {
	b := NewVecLiteBackend(&stubProvider{dimensions: 8})
	if b.Exists(filepath.Join(t.TempDir(), "nope")) {
		t.Error("Exists should be false for a missing directory")
	}
}

func TestLoad_MissingIsDistinguishable(t *testing.T) {
	b := NewVecLiteBackend(&stubProvider{dimensions: 8})
	ctx := context.Background()

	_, err := b.Load(ctx, filepath.Join(t.TempDir(), "absent"))
	if err != ErrStoreMissing {
		t.Errorf("Expected ErrStoreMissing for absent store, got %v", err)
	}
}

func TestLoad_CorruptManifestIsNotMissing(t *testing.T) {
	b := NewVecLiteBackend(&stubProvider{dimensions: 8})
	ctx := context.Background()

	dir := t.TempDir()
	writeArtifacts(t, dir, []byte("not a real index"), []byte("not json"))

	_, err := b.Load(ctx, dir)
	if err == nil {
		t.Fatal("Expected an error loading a corrupt store")
	}
	if err == ErrStoreMissing {
		t.Error("Corrupt store must not be reported as missing")
	}
}

func TestManifestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFile)

	want := Manifest{
		Dimensions: 768,
		Model:      "nomic-embed-text",
		ChunkCount: 42,
		UpdatedAt:  time.Now().UTC().Truncate(time.Second),
	}
	if err := writeManifest(path, want); err != nil {
		t.Fatalf("writeManifest failed: %v", err)
	}

	got, err := readManifest(path)
	if err != nil {
		t.Fatalf("readManifest failed: %v", err)
	}
	if got.Dimensions != want.Dimensions || got.Model != want.Model || got.ChunkCount != want.ChunkCount {
		t.Errorf("Manifest mismatch: got %+v, want %+v", got, want)
	}

	// No temp file left behind
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temp manifest file was not cleaned up")
	}
}

func TestPayloadHelpers(t *testing.T) {
	payload := map[string]any{
		"source":         "doc.txt",
		"ordinal":        float64(3), // numbers round-trip as float64 through persistence
		"is_placeholder": true,
	}

	if got := getStringPayload(payload, "source"); got != "doc.txt" {
		t.Errorf("getStringPayload = %q", got)
	}
	if got := getIntPayload(payload, "ordinal"); got != 3 {
		t.Errorf("getIntPayload = %d", got)
	}
	if !getBoolPayload(payload, "is_placeholder") {
		t.Error("getBoolPayload should be true")
	}
	if getStringPayload(payload, "missing") != "" || getIntPayload(payload, "missing") != 0 {
		t.Error("Missing keys should produce zero values")
	}
}

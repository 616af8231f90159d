package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docchat-ai/docchat/internal/chunk"
	"github.com/docchat-ai/docchat/internal/store"
)

// DocumentWriter persists a document's chunks. Satisfied by
// store.Coordinator.
type DocumentWriter interface {
	AddDocument(ctx context.Context, documentID string, chunks []chunk.Chunk) (*store.WriteOutcome, error)
}

// Result summarizes one ingestion run.
type Result struct {
	FilesScanned  int
	FilesIngested int
	FilesSkipped  int
	ChunksAdded   int
	Failures      []string
}

// Ingester reads files, splits them into chunks, and writes them
// through the dual-write coordinator.
type Ingester struct {
	scanner  *Scanner
	splitter *chunk.Splitter
	writer   DocumentWriter
}

// NewIngester creates an Ingester.
func NewIngester(scanner *Scanner, splitter *chunk.Splitter, writer DocumentWriter) *Ingester {
	return &Ingester{scanner: scanner, splitter: splitter, writer: writer}
}

// IngestAll scans the root and ingests every accepted file. Per-file
// failures are collected in the result, not fatal.
func (i *Ingester) IngestAll(ctx context.Context) (*Result, error) {
	files, err := i.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{FilesScanned: len(files)}
	for _, f := range files {
		added, err := i.ingestFile(ctx, f.Path, f.RelativePath)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", f.RelativePath, err))
			continue
		}
		if added == 0 {
			result.FilesSkipped++
			continue
		}
		result.FilesIngested++
		result.ChunksAdded += added
	}
	return result, nil
}

// IngestFile ingests a single file by path. The document ID is the
// path relative to the scan root when the file lives under it.
func (i *Ingester) IngestFile(ctx context.Context, path string) (int, error) {
	return i.ingestFile(ctx, path, i.documentID(path))
}

func (i *Ingester) ingestFile(ctx context.Context, path, documentID string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read file: %w", err)
	}
	if !IsText(content) {
		return 0, nil // binary files are skipped silently
	}

	chunks := i.splitter.Split(string(content), documentID)
	if len(chunks) == 0 {
		return 0, nil
	}

	outcome, err := i.writer.AddDocument(ctx, documentID, chunks)
	if err != nil {
		return 0, err
	}
	return outcome.ChunksAdded, nil
}

func (i *Ingester) documentID(path string) string {
	rel, err := filepath.Rel(i.scanner.Root(), path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

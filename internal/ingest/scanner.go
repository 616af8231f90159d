// Package ingest turns files on disk into indexed document chunks. The
// scanner walks a directory tree applying gitignore-style filters, the
// ingester splits and writes documents, and the watcher keeps the
// stores current as files change.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	gitignore "github.com/sabhiram/go-gitignore"
)

// ScanConfig configures a directory scan.
type ScanConfig struct {
	// IgnorePatterns are gitignore-style patterns applied on top of
	// the project's .gitignore and .docchatignore files.
	IgnorePatterns []string

	// MaxFileSize skips files larger than this many bytes.
	MaxFileSize int64
}

// DefaultScanConfig returns sensible scan defaults.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		IgnorePatterns: []string{
			".git/**",
			".docchat/**",
			"node_modules/**",
			"vendor/**",
			"*.min.js",
			"*.lock",
			"*.tmp",
			"*~",
		},
		MaxFileSize: 1024 * 1024, // 1MB
	}
}

// FileInfo describes one scannable file.
type FileInfo struct {
	Path         string
	RelativePath string
	Size         int64
}

// Scanner collects ingestable files under a root directory.
type Scanner struct {
	root   string
	config ScanConfig
	ignore *gitignore.GitIgnore
}

// NewScanner builds a Scanner for root, compiling the ignore matcher
// from the config patterns plus any .gitignore and .docchatignore in
// the root.
func NewScanner(root string, cfg ScanConfig) (*Scanner, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	patterns := make([]string, len(cfg.IgnorePatterns))
	copy(patterns, cfg.IgnorePatterns)
	for _, name := range []string{".gitignore", ".docchatignore"} {
		patterns = append(patterns, readIgnoreFile(filepath.Join(absRoot, name))...)
	}

	return &Scanner{
		root:   absRoot,
		config: cfg,
		ignore: gitignore.CompileIgnoreLines(patterns...),
	}, nil
}

// Scan walks the tree and returns files that pass the filters.
func (s *Scanner) Scan(ctx context.Context) ([]FileInfo, error) {
	var files []FileInfo

	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		relPath, err := filepath.Rel(s.root, p)
		if err != nil {
			relPath = p
		}

		if relPath != "." && s.ignore.MatchesPath(relPath) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if s.config.MaxFileSize > 0 && info.Size() > s.config.MaxFileSize {
			return nil
		}

		files = append(files, FileInfo{
			Path:         p,
			RelativePath: relPath,
			Size:         info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.root, err)
	}
	return files, nil
}

// Accepts reports whether a single path would pass the scan filters.
// Used by the watcher to vet changed files without a full rescan.
func (s *Scanner) Accepts(path string) bool {
	relPath, err := filepath.Rel(s.root, path)
	if err != nil {
		relPath = path
	}
	if s.ignore.MatchesPath(relPath) {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if s.config.MaxFileSize > 0 && info.Size() > s.config.MaxFileSize {
		return false
	}
	return true
}

// Root returns the absolute scan root.
func (s *Scanner) Root() string { return s.root }

func readIgnoreFile(path string) []string {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var patterns []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			patterns = append(patterns, line)
		}
	}
	return patterns
}

// IsText reports whether content looks like text: no null bytes and
// valid UTF-8 in the leading sample.
func IsText(content []byte) bool {
	if len(content) == 0 {
		return true
	}

	sample := content
	if len(sample) > 8192 {
		sample = sample[:8192]
	}
	for _, b := range sample {
		if b == 0 {
			return false
		}
	}
	// The sample boundary may cut a multi-byte rune; allow up to three
	// trailing bytes to be dropped before validating.
	for i := 0; i < 4 && len(sample) > 0; i++ {
		if utf8.Valid(sample) {
			return true
		}
		sample = sample[:len(sample)-1]
	}
	return utf8.Valid(sample)
}

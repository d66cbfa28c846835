// Package ignore holds the exclusion patterns applied to both sides of a sync.
package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is read from the local root, one pattern per line, when present.
const IgnoreFileName = ".treesyncignore"

var ErrInvalidPattern = errors.New("invalid exclusion pattern")

// DefaultPatterns are temporary and OS metadata files that are never worth syncing.
var DefaultPatterns = []string{
	IgnoreFileName,
	"*.tmp",
	"*.swp",
	"*.treesync.tmp.*",
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
}

// ExclusionSet is an ordered list of gitignore style patterns.
// Patterns are matched against slash separated paths relative to the sync root.
type ExclusionSet struct {
	patterns []string
	matcher  *gitignore.GitIgnore
}

// New validates and compiles patterns. Blank lines and comments are dropped.
func New(patterns ...string) (*ExclusionSet, error) {
	cleaned := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		if err := validate(p); err != nil {
			return nil, err
		}
		cleaned = append(cleaned, p)
	}

	return &ExclusionSet{
		patterns: cleaned,
		matcher:  gitignore.CompileIgnoreLines(cleaned...),
	}, nil
}

// Load builds an ExclusionSet from DefaultPatterns (when withDefaults is set),
// the ignore file in rootDir and extra, in that order.
func Load(rootDir string, withDefaults bool, extra ...string) (*ExclusionSet, error) {
	var lines []string
	if withDefaults {
		lines = append(lines, DefaultPatterns...)
	}

	ignorePath := filepath.Join(rootDir, IgnoreFileName)
	fileLines, err := readIgnoreFile(ignorePath)
	if err != nil {
		return nil, err
	}
	if len(fileLines) > 0 {
		slog.Info("loaded ignore file", "path", ignorePath, "rules", len(fileLines))
	}
	lines = append(lines, fileLines...)
	lines = append(lines, extra...)

	return New(lines...)
}

func readIgnoreFile(ignorePath string) ([]string, error) {
	file, err := os.Open(ignorePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("open ignore file: %w", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ignore file %s: %w", ignorePath, err)
	}
	return lines, nil
}

// Patterns returns the compiled patterns in order.
func (s *ExclusionSet) Patterns() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.patterns...)
}

// Len is the number of patterns.
func (s *ExclusionSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.patterns)
}

// Match reports whether relPath is excluded. Directories also match patterns with a
// trailing slash. A nil set excludes nothing.
func (s *ExclusionSet) Match(relPath string, isDir bool) bool {
	if s == nil || len(s.patterns) == 0 {
		return false
	}

	relPath = strings.Trim(filepath.ToSlash(relPath), "/")
	if relPath == "" || relPath == "." {
		return false
	}

	if s.matcher.MatchesPath(relPath) {
		return true
	}
	return isDir && s.matcher.MatchesPath(relPath+"/")
}

func validate(pattern string) error {
	body := strings.TrimPrefix(pattern, "!")
	body = strings.TrimSuffix(body, "/")
	if body == "" || body == "/" {
		return fmt.Errorf("%w %q: empty pattern", ErrInvalidPattern, pattern)
	}
	if !doublestar.ValidatePattern(path.Clean(body)) {
		return fmt.Errorf("%w %q: malformed glob", ErrInvalidPattern, pattern)
	}
	return nil
}

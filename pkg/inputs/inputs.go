// Package inputs expands upload arguments into the list of local files to
// submit.
//
// Arguments are either plain paths or doublestar globs ("photos/**/*.png").
// Plain paths must exist; glob matches are filtered by excludes, hidden
// segments and size, and skipped matches are reported rather than failing
// the run.
package inputs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	// ErrNoInputs is returned when the arguments expand to nothing.
	ErrNoInputs = errors.New("no input files")

	// ErrInvalidPattern is returned for a glob doublestar cannot compile.
	ErrInvalidPattern = errors.New("invalid glob pattern")

	// ErrNotRegular is returned when a plain path names a directory or
	// other non-regular file.
	ErrNotRegular = errors.New("not a regular file")

	// ErrTooLarge is returned when a plain path exceeds Config.MaxSize.
	ErrTooLarge = errors.New("file too large")
)

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// Config filters glob matches.
type Config struct {
	// Excludes are doublestar patterns; a match against either the full
	// slash path or the base name drops the file.
	Excludes []string

	// IncludeHidden keeps glob matches below dot-directories or named
	// with a leading dot.
	IncludeHidden bool

	// MaxSize drops files larger than this many bytes. Zero disables it.
	MaxSize int64
}

// Input is one file to upload.
type Input struct {
	Path string
	Size int64
}

// Skip records a glob match that was filtered out.
type Skip struct {
	Path   string
	Reason string
}

// Result is the ordered, de-duplicated expansion of the arguments.
type Result struct {
	Inputs  []Input
	Skipped []Skip
}

// Expand resolves args in order. Duplicate paths are kept once, at their
// first position.
func Expand(args []string, cfg Config) (*Result, error) {
	for _, exc := range cfg.Excludes {
		if !doublestar.ValidatePattern(NormalizePattern(exc)) {
			return nil, &PatternError{Pattern: exc, Err: ErrInvalidPattern}
		}
	}

	res := &Result{}
	seen := make(map[string]bool)
	add := func(path string, size int64) {
		key := filepath.Clean(path)
		if seen[key] {
			return
		}
		seen[key] = true
		res.Inputs = append(res.Inputs, Input{Path: path, Size: size})
	}

	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}

		if !IsGlobPattern(arg) {
			path := unescape(arg)
			info, err := os.Stat(path)
			if err != nil {
				return nil, fmt.Errorf("input %s: %w", path, err)
			}
			if !info.Mode().IsRegular() {
				return nil, fmt.Errorf("input %s: %w", path, ErrNotRegular)
			}
			if cfg.MaxSize > 0 && info.Size() > cfg.MaxSize {
				return nil, fmt.Errorf("input %s (%s): %w", path, FormatSize(info.Size()), ErrTooLarge)
			}
			add(path, info.Size())
			continue
		}

		pattern := NormalizePattern(arg)
		if !doublestar.ValidatePattern(pattern) {
			return nil, &PatternError{Pattern: arg, Err: ErrInvalidPattern}
		}
		root := StaticRoot(pattern)
		if root != "" {
			root = strings.TrimSuffix(filepath.ToSlash(filepath.Clean(root)), "/") + "/"
		}

		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, &PatternError{Pattern: arg, Err: err}
		}
		for _, m := range matches {
			if reason := skipReason(m, root, cfg); reason != "" {
				res.Skipped = append(res.Skipped, Skip{Path: m, Reason: reason})
				continue
			}
			info, err := os.Stat(m)
			if err != nil {
				res.Skipped = append(res.Skipped, Skip{Path: m, Reason: err.Error()})
				continue
			}
			if cfg.MaxSize > 0 && info.Size() > cfg.MaxSize {
				res.Skipped = append(res.Skipped, Skip{Path: m, Reason: "larger than " + FormatSize(cfg.MaxSize)})
				continue
			}
			add(m, info.Size())
		}
	}

	if len(res.Inputs) == 0 {
		return res, ErrNoInputs
	}
	return res, nil
}

func skipReason(path, root string, cfg Config) string {
	slash := filepath.ToSlash(path)
	if !cfg.IncludeHidden && IsHidden(strings.TrimPrefix(slash, root)) {
		return "hidden"
	}
	base := filepath.Base(path)
	for _, exc := range cfg.Excludes {
		exc = NormalizePattern(exc)
		if ok, _ := doublestar.Match(exc, slash); ok {
			return "excluded by " + exc
		}
		if ok, _ := doublestar.Match(exc, base); ok {
			return "excluded by " + exc
		}
	}
	return ""
}

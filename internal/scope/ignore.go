package scope

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/marksync/marksync/internal/utils"
)

// IgnoreFileName is the gitignore-style rule file read from the sync root.
const IgnoreFileName = ".marksyncignore"

var defaultIgnoreLines = []string{
	".marksyncignore",
	".git",
	".DS_Store",
	"*.tmp",
	"*.conflict.md",
}

// IgnoreList decides which planned local paths are excluded from a sync.
// Rules come from the ignore file (gitignore syntax) plus explicit exclude
// globs; both are matched against the path a page would occupy, so existing
// local files are never touched by exclusion.
type IgnoreList struct {
	baseDir  string
	excludes []string
	ignore   *gitignore.GitIgnore
}

func NewIgnoreList(baseDir string, excludes []string) *IgnoreList {
	return &IgnoreList{baseDir: baseDir, excludes: excludes}
}

// Load reads the ignore file if present and compiles the rule set.
func (l *IgnoreList) Load() {
	ignorePath := filepath.Join(l.baseDir, IgnoreFileName)
	ignoreLines := defaultIgnoreLines

	if utils.FileExists(ignorePath) {
		rules := 0
		file, err := os.Open(ignorePath)
		if err != nil {
			slog.Warn("failed to open ignore file", "path", ignorePath, "error", err)
		} else {
			defer file.Close()
			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				line := scanner.Text()
				if line != "" {
					ignoreLines = append(ignoreLines, line)
					rules++
				}
			}
			if err := scanner.Err(); err != nil {
				slog.Warn("error reading ignore file", "path", ignorePath, "error", err)
			} else {
				slog.Debug("loaded ignore file", "path", ignorePath, "rules", rules)
			}
		}
	}

	l.ignore = gitignore.CompileIgnoreLines(ignoreLines...)
}

// ShouldIgnore matches a planned sync-root-relative path against the rules.
func (l *IgnoreList) ShouldIgnore(relPath string) bool {
	relPath = utils.NormPath(relPath)
	if l.ignore != nil && l.ignore.MatchesPath(relPath) {
		return true
	}
	for _, pattern := range l.excludes {
		if ok, err := doublestar.Match(pattern, relPath); err == nil && ok {
			return true
		}
	}
	return false
}

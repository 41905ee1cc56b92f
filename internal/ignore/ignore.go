package ignore

import (
	"bufio"
	"errors"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/openmined/gdmirror/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/afero"
)

// FileName is the optional per-root ignore file.
const FileName = ".gdmirrorignore"

var defaultLines = []string{
	".gdmirror*",
	// editors and OS litter
	".DS_Store",
	"Thumbs.db",
	"*.swp",
	"*~",
}

// List matches root-relative slash paths against gitignore-style patterns.
type List struct {
	lines  []string
	ignore *gitignore.GitIgnore
}

// New compiles the default patterns followed by extra.
func New(extra ...string) *List {
	l := &List{}
	l.compile(extra)
	return l
}

func (l *List) compile(extra []string) {
	lines := append([]string(nil), defaultLines...)
	for _, line := range extra {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	l.lines = lines
	l.ignore = gitignore.CompileIgnoreLines(lines...)
}

// Load appends the rules of root/.gdmirrorignore, if present.
func (l *List) Load(fsys afero.Fs, root string) error {
	p := utils.JoinSlash(root, FileName)
	f, err := fsys.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	var extra []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" && !strings.HasPrefix(line, "#") {
			extra = append(extra, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	l.compile(append(l.lines[len(defaultLines):], extra...))
	slog.Info("loaded ignore file", "path", p, "rules", len(extra))
	return nil
}

// ShouldIgnore reports whether the root-relative path matches. The root
// itself ("") is never ignored.
func (l *List) ShouldIgnore(rel string) bool {
	rel = utils.NormPath(rel)
	if rel == "" {
		return false
	}
	return l.ignore.MatchesPath(rel)
}

func (l *List) Patterns() []string {
	return append([]string(nil), l.lines...)
}

package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

var unsafeChars = regexp.MustCompile(`[^a-z0-9]+`)

// ArtifactSaver writes finished plans to disk for later reference. Saving is
// best-effort; a failed write is logged and forgotten.
type ArtifactSaver struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

func NewArtifactSaver(dir string, logger *zap.Logger) *ArtifactSaver {
	return &ArtifactSaver{dir: dir, logger: logger, now: time.Now}
}

// Save writes the plan as a markdown file named from the query and timestamp.
func (a *ArtifactSaver) Save(query, markdown string) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		a.logger.Warn("Artifact dir unavailable", zap.Error(err))
		return
	}
	name := fmt.Sprintf("%s_%s.md", a.now().Format("20060102_150405"), slugify(query))
	path := filepath.Join(a.dir, name)
	if err := os.WriteFile(path, []byte(markdown), 0o644); err != nil {
		a.logger.Warn("Artifact not saved", zap.Error(err))
		return
	}
	a.logger.Info("Plan saved", zap.String("path", path))
}

func slugify(s string) string {
	s = unsafeChars.ReplaceAllString(strings.ToLower(s), "-")
	s = strings.Trim(s, "-")
	if len(s) > 60 {
		s = s[:60]
	}
	if s == "" {
		s = "plan"
	}
	return s
}

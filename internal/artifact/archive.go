package artifact

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
)

// Archiver moves processed request files out of the watched directory
// so they are never re-ingested.
type Archiver struct {
	processedDir string
}

func NewArchiver(processedDir string) *Archiver {
	return &Archiver{processedDir: processedDir}
}

// Archive moves the originating request file to
// processed/<task-id>.<status>.task.md. Archiving twice is a no-op, as
// is archiving a source that was already removed.
func (a *Archiver) Archive(sourcePath, taskID string, status domain.TaskStatus) (string, error) {
	if err := os.MkdirAll(a.processedDir, 0755); err != nil {
		return "", fmt.Errorf("creating processed dir: %w", err)
	}

	dest := filepath.Join(a.processedDir, fmt.Sprintf("%s.%s.task.md", taskID, status))
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	if sourcePath == "" {
		return dest, nil
	}
	if err := os.Rename(sourcePath, dest); err != nil {
		if os.IsNotExist(err) {
			return dest, nil
		}
		return "", fmt.Errorf("archiving %s: %w", sourcePath, err)
	}
	return dest, nil
}

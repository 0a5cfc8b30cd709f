package sync

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/anotepad/notesync/internal/localfs"
)

// conflictStampLayout is minute precision, with '-' in place of ':' so the
// stamp is a legal file name everywhere.
const conflictStampLayout = "2006-01-02 15-04"

// maxConflictSuffix bounds the collision search for a free conflict name.
const maxConflictSuffix = 1000

// BuildConflictName inserts " (conflict YYYY-MM-DD HH-mm)" before the
// extension of the last path segment. Only the last segment is split, so
// dots in directory names are preserved. Applying it to its own output
// appends a second marker.
func BuildConflictName(relPath string, t time.Time) string {
	return conflictName(relPath, t, 0)
}

func conflictName(relPath string, t time.Time, n int) string {
	marker := "conflict " + t.Format(conflictStampLayout)
	if n > 1 {
		marker += fmt.Sprintf(" %d", n)
	}

	dir, name := path.Split(relPath)

	dot := strings.LastIndex(name, ".")
	if dot < 0 {
		return dir + name + " (" + marker + ")"
	}

	return dir + name[:dot] + " (" + marker + ")" + name[dot:]
}

// freeConflictName returns the first conflict name for relPath that is
// neither on disk nor tracked, numbering collisions " 2", " 3", ...
func (r *run) freeConflictName(relPath string) (string, error) {
	t := r.e.nowFunc()

	for n := 1; n <= maxConflictSuffix; n++ {
		candidate := conflictName(relPath, t, n)
		if r.local.Exists(candidate) {
			continue
		}

		rec, err := r.e.store.ItemByPath(r.ctx, candidate)
		if err != nil {
			return "", err
		}

		if rec == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("sync: no free conflict name for %s", relPath)
}

// trashName is the destination inside the hidden trash directory for a
// file removed remotely.
func (r *run) trashName(relPath string) (string, error) {
	return r.freeConflictName(localfs.TrashDir + "/" + path.Base(relPath))
}

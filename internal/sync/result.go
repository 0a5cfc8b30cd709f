package sync

import (
	"fmt"
	"log/slog"
)

// Result is the outcome of one RunSync call: Success, Skipped or Failure.
type Result interface {
	isResult()
	String() string
}

// Success means both phases completed.
type Success struct {
	Report Report
}

// Skipped means a precondition disabled or paused the run. No work was done.
type Skipped struct {
	Reason string
}

// Failure means a precondition failed. AuthRequired distinguishes a
// missing or rejected credential from a configuration problem.
type Failure struct {
	AuthRequired bool
	Reason       string
}

func (Success) isResult() {}
func (Skipped) isResult() {}
func (Failure) isResult() {}

func (s Success) String() string { return "success: " + s.Report.String() }
func (s Skipped) String() string { return "skipped: " + s.Reason }

func (f Failure) String() string {
	if f.AuthRequired {
		return "failure (auth required): " + f.Reason
	}

	return "failure: " + f.Reason
}

// Report counts the work done by a run.
type Report struct {
	Uploads        int
	Downloads      int
	Conflicts      int
	RemoteDeletes  int
	LocalTrashed   int
	Detached       int
	FoldersCreated int
	Relocations    int
	FullScan       bool
}

// Changed reports whether the run touched anything.
func (r Report) Changed() bool {
	return r.Uploads+r.Downloads+r.Conflicts+r.RemoteDeletes+r.LocalTrashed+
		r.Detached+r.FoldersCreated+r.Relocations > 0
}

func (r Report) String() string {
	return fmt.Sprintf("%d up, %d down, %d conflicts, %d remote deletes, %d trashed locally",
		r.Uploads, r.Downloads, r.Conflicts, r.RemoteDeletes, r.LocalTrashed)
}

// LogValue renders the report as a structured group.
func (r Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("uploads", r.Uploads),
		slog.Int("downloads", r.Downloads),
		slog.Int("conflicts", r.Conflicts),
		slog.Int("remote_deletes", r.RemoteDeletes),
		slog.Int("local_trashed", r.LocalTrashed),
		slog.Int("detached", r.Detached),
		slog.Int("folders_created", r.FoldersCreated),
		slog.Int("relocations", r.Relocations),
		slog.Bool("full_scan", r.FullScan),
	)
}

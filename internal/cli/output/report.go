package output

import (
	"fmt"
	"strconv"

	"github.com/marmos91/dvuploader/internal/bytesize"
	"github.com/marmos91/dvuploader/internal/cli/timeutil"
	"github.com/marmos91/dvuploader/pkg/journal"
	"github.com/marmos91/dvuploader/pkg/upload"
)

// FileTable lists per-file outcomes of a batch. Unless All is set only
// failed files are listed.
type FileTable struct {
	Outcomes []upload.FileOutcome
	All      bool
}

// Headers implements TableRenderer.
func (t FileTable) Headers() []string {
	return []string{"Path", "Status", "Reason", "Size", "Retries", "Detail"}
}

// Rows implements TableRenderer.
func (t FileTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.Outcomes))
	for _, o := range t.Outcomes {
		if !t.All && o.Status != upload.StatusFailed {
			continue
		}
		detail := o.Error
		if detail == "" && o.Match != "" {
			detail = "matches " + o.Match
		}
		reason := string(o.Reason)
		if reason == "" {
			reason = "-"
		}
		rows = append(rows, []string{
			o.Path,
			string(o.Status),
			reason,
			bytesize.ByteSize(o.Bytes).String(),
			strconv.Itoa(o.BatchRetries),
			detail,
		})
	}
	return rows
}

// Summary returns the key/value lines printed above the file table.
func Summary(r *upload.Result) [][2]string {
	c := r.Counters
	pairs := [][2]string{
		{"Batch", r.BatchID},
		{"Dataset", r.DatasetPID},
		{"Destination", orDash(r.Destination)},
		{"Mode", r.Mode.String()},
		{"Uploaded", fmt.Sprintf("%d (%s)", c.UploadedFiles, bytesize.ByteSize(c.UploadedBytes))},
		{"Skipped", strconv.Itoa(c.SkippedFiles)},
		{"Failed", strconv.Itoa(c.FailedFiles)},
		{"Duration", timeutil.FormatDuration(r.Duration())},
	}
	if r.Cancelled {
		pairs = append(pairs, [2]string{"Cancelled", "yes"})
	}
	return pairs
}

// PrintReport writes a batch result. Table output is a summary followed by
// the file table; json and yaml emit the whole result.
func PrintReport(p *Printer, r *upload.Result, all bool) error {
	if p.Format() != FormatTable {
		return p.Print(r)
	}

	if err := KeyValueTable(p.Writer(), Summary(r)); err != nil {
		return err
	}
	files := FileTable{Outcomes: r.Outcomes, All: all}
	if len(files.Rows()) == 0 {
		return nil
	}
	p.Println()
	return PrintTable(p.Writer(), files)
}

// HistoryTable lists journaled batches.
type HistoryTable []*journal.BatchRecord

// Headers implements TableRenderer.
func (h HistoryTable) Headers() []string {
	return []string{"Batch", "Started", "Dataset", "Mode", "Uploaded", "Skipped", "Failed", "Bytes", "Duration"}
}

// Rows implements TableRenderer.
func (h HistoryTable) Rows() [][]string {
	rows := make([][]string, 0, len(h))
	for _, b := range h {
		id := b.ID
		if len(id) > 8 {
			id = id[:8]
		}
		mode := b.Mode
		if b.Cancelled {
			mode += " (cancelled)"
		}
		rows = append(rows, []string{
			id,
			timeutil.FormatTime(b.StartedAt),
			b.DatasetPID,
			mode,
			strconv.Itoa(b.UploadedFiles),
			strconv.Itoa(b.SkippedFiles),
			strconv.Itoa(b.FailedFiles),
			bytesize.ByteSize(b.UploadedBytes).String(),
			timeutil.FormatDuration(b.FinishedAt.Sub(b.StartedAt)),
		})
	}
	return rows
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dvuploader/pkg/journal"
	"github.com/marmos91/dvuploader/pkg/upload"
)

func sampleResult() *upload.Result {
	start := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	return &upload.Result{
		BatchID:    "0b9f6d2e-1111-2222-3333-444455556666",
		DatasetPID: "doi:10.5072/FK2/TEST",
		Mode:       upload.ModeProxied,
		Started:    start,
		Finished:   start.Add(65 * time.Second),
		Counters:   upload.CounterSnapshot{UploadedFiles: 1, SkippedFiles: 1, FailedFiles: 1, UploadedBytes: 2048},
		Outcomes: []upload.FileOutcome{
			{Path: "a.csv", Status: upload.StatusUploaded, Bytes: 2048},
			{Path: "b.tab", Status: upload.StatusSkipped, Reason: upload.ReasonExactName, Match: "b.tab"},
			{Path: "c.bin", Status: upload.StatusFailed, Reason: upload.ReasonTransientNetwork, Error: "503 Service Unavailable", BatchRetries: 3},
		},
	}
}

func TestFileTable(t *testing.T) {
	r := sampleResult()

	failed := FileTable{Outcomes: r.Outcomes}.Rows()
	require.Len(t, failed, 1)
	assert.Equal(t, []string{"c.bin", "failed", "transient-network", "0B", "3", "503 Service Unavailable"}, failed[0])

	all := FileTable{Outcomes: r.Outcomes, All: true}.Rows()
	require.Len(t, all, 3)
	assert.Equal(t, "-", all[0][2])
	assert.Equal(t, "2.00KiB", all[0][3])
	assert.Equal(t, "matches b.tab", all[1][5])
}

func TestSummary(t *testing.T) {
	r := sampleResult()
	pairs := Summary(r)

	m := map[string]string{}
	for _, p := range pairs {
		m[p[0]] = p[1]
	}
	assert.Equal(t, "1 (2.00KiB)", m["Uploaded"])
	assert.Equal(t, "1m 5s", m["Duration"])
	assert.Equal(t, "-", m["Destination"])
	_, cancelled := m["Cancelled"]
	assert.False(t, cancelled)

	r.Cancelled = true
	assert.Equal(t, [2]string{"Cancelled", "yes"}, Summary(r)[len(Summary(r))-1])
}

func TestPrintReport(t *testing.T) {
	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, PrintReport(NewPrinter(&buf, FormatTable, false), sampleResult(), false))
		out := buf.String()
		assert.Contains(t, out, "doi:10.5072/FK2/TEST")
		assert.Contains(t, out, "c.bin")
		assert.NotContains(t, out, "a.csv")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, PrintReport(NewPrinter(&buf, FormatJSON, false), sampleResult(), false))
		out := buf.String()
		assert.Contains(t, out, `"mode": "proxied"`)
		assert.Contains(t, out, `"uploadedBytes": 2048`)
		assert.Equal(t, 3, strings.Count(out, `"path"`))
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, PrintReport(NewPrinter(&buf, FormatYAML, false), sampleResult(), false))
		assert.Contains(t, buf.String(), "batchId:")
		assert.Contains(t, buf.String(), "0b9f6d2e-1111-2222-3333-444455556666")
	})
}

func TestHistoryTable(t *testing.T) {
	start := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	h := HistoryTable{journal.FromResult(sampleResult())}
	h[0].Cancelled = true
	h[0].FinishedAt = start.Add(2 * time.Second)

	rows := h.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "0b9f6d2e", rows[0][0])
	assert.Equal(t, "proxied (cancelled)", rows[0][3])
	assert.Equal(t, "2.00KiB", rows[0][7])
	assert.Equal(t, "2s", rows[0][8])
	assert.Len(t, rows[0], len(h.Headers()))
}

package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"mdm/internal/governance"
	"mdm/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	logs   []governance.AuditLog
	filter repository.AuditFilter
	err    error
}

func (f *fakeReader) AuditLogs(_ *governance.Principal, filter repository.AuditFilter) ([]governance.AuditLog, error) {
	f.filter = filter
	return f.logs, f.err
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func sampleLogs() []governance.AuditLog {
	return []governance.AuditLog{
		{ID: "a1", UserID: "u-maker", Action: governance.ActionCreate, EntityType: governance.KindCategory, EntityID: "c1", Timestamp: base},
		{ID: "a2", UserID: "u-checker", Action: governance.ActionApprove, EntityType: governance.KindCategory, EntityID: "c1",
			Timestamp: base.Add(time.Hour), Changes: map[string]any{"approvalStatus": "Approved"}},
	}
}

func newTestExporter(r Reader) *Exporter {
	e := NewExporter(r)
	e.now = func() time.Time { return base.Add(24 * time.Hour) }
	return e
}

func TestExportCSV(t *testing.T) {
	e := newTestExporter(&fakeReader{logs: sampleLogs()})

	res, err := e.Export(context.Background(), ExportRequest{Format: FormatCSV})
	require.NoError(t, err)
	assert.Equal(t, "audit_logs_20260302_090000.csv", res.Filename)
	assert.Equal(t, 2, res.TotalCount)

	rows, err := csv.NewReader(strings.NewReader(string(res.Data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "changes", rows[0][6])
	assert.Equal(t, []string{"a2", "2026-03-01T10:00:00Z", "u-checker", "APPROVE", "Category", "c1", `{"approvalStatus":"Approved"}`}, rows[2])
}

func TestExportJSONWithTimeRange(t *testing.T) {
	reader := &fakeReader{logs: sampleLogs()}
	e := newTestExporter(reader)
	from := base.Add(30 * time.Minute)

	res, err := e.Export(context.Background(), ExportRequest{From: &from})
	require.NoError(t, err)
	assert.Equal(t, "application/json; charset=utf-8", res.ContentType)
	assert.Equal(t, maxExportRows, reader.filter.Limit)

	var body struct {
		TotalCount int                   `json:"totalCount"`
		Logs       []governance.AuditLog `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &body))
	require.Equal(t, 1, body.TotalCount)
	assert.Equal(t, "a2", body.Logs[0].ID)
}

func TestExportPropagatesReaderError(t *testing.T) {
	e := newTestExporter(&fakeReader{err: governance.ErrForbidden})
	_, err := e.Export(context.Background(), ExportRequest{})
	assert.ErrorIs(t, err, governance.ErrForbidden)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("csv")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	_, err = ParseFormat("xlsx")
	assert.Equal(t, governance.KindValidation, governance.KindOf(err))
}

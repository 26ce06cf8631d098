package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"

	"mdm/internal/governance"
	"mdm/internal/repository"
)

// ExportFormat 导出格式
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// maxExportRows 单次导出上限
const maxExportRows = 10000

// ParseFormat 解析导出格式，空值为 JSON
func ParseFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: unknown export format %q", governance.ErrValidation, s)
}

// ExportRequest 导出请求
type ExportRequest struct {
	Principal *governance.Principal
	Format    ExportFormat
	Filter    repository.AuditFilter
	From      *time.Time
	To        *time.Time
}

// ExportResult 导出结果
type ExportResult struct {
	Data        []byte
	Filename    string
	ContentType string
	TotalCount  int
}

// Reader 审计日志读取，按调用者权限过滤
type Reader interface {
	AuditLogs(p *governance.Principal, filter repository.AuditFilter) ([]governance.AuditLog, error)
}

// Exporter 审计日志导出器
type Exporter struct {
	reader Reader
	now    func() time.Time
}

// NewExporter 创建导出器
func NewExporter(reader Reader) *Exporter {
	return &Exporter{reader: reader, now: time.Now}
}

// Export 导出审计日志
func (e *Exporter) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filter := req.Filter
	if filter.Limit <= 0 || filter.Limit > maxExportRows {
		filter.Limit = maxExportRows
	}
	logs, err := e.reader.AuditLogs(req.Principal, filter)
	if err != nil {
		return nil, err
	}
	logs = inRange(logs, req.From, req.To)

	timestamp := e.now().UTC().Format("20060102_150405")
	if req.Format == FormatCSV {
		return exportCSV(logs, timestamp)
	}
	return exportJSON(logs, e.now().UTC(), timestamp)
}

func inRange(logs []governance.AuditLog, from, to *time.Time) []governance.AuditLog {
	if from == nil && to == nil {
		return logs
	}
	out := logs[:0:0]
	for _, l := range logs {
		if from != nil && l.Timestamp.Before(*from) {
			continue
		}
		if to != nil && l.Timestamp.After(*to) {
			continue
		}
		out = append(out, l)
	}
	return out
}

func exportCSV(logs []governance.AuditLog, timestamp string) (*ExportResult, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{"id", "timestamp", "userId", "action", "entityType", "entityId", "changes"}
	if err := writer.Write(header); err != nil {
		return nil, err
	}
	for _, l := range logs {
		changes := ""
		if len(l.Changes) > 0 {
			b, err := json.Marshal(l.Changes)
			if err != nil {
				return nil, fmt.Errorf("序列化变更失败: %w", err)
			}
			changes = string(b)
		}
		row := []string{
			l.ID,
			l.Timestamp.UTC().Format(time.RFC3339),
			l.UserID,
			string(l.Action),
			string(l.EntityType),
			l.EntityID,
			changes,
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}

	return &ExportResult{
		Data:        buf.Bytes(),
		Filename:    fmt.Sprintf("audit_logs_%s.csv", timestamp),
		ContentType: "text/csv; charset=utf-8",
		TotalCount:  len(logs),
	}, nil
}

// exportResult JSON 导出包装
type exportResult struct {
	ExportedAt string                `json:"exportedAt"`
	TotalCount int                   `json:"totalCount"`
	Logs       []governance.AuditLog `json:"logs"`
}

func exportJSON(logs []governance.AuditLog, now time.Time, timestamp string) (*ExportResult, error) {
	if logs == nil {
		logs = []governance.AuditLog{}
	}
	data, err := json.MarshalIndent(exportResult{
		ExportedAt: now.Format(time.RFC3339),
		TotalCount: len(logs),
		Logs:       logs,
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	return &ExportResult{
		Data:        data,
		Filename:    fmt.Sprintf("audit_logs_%s.json", timestamp),
		ContentType: "application/json; charset=utf-8",
		TotalCount:  len(logs),
	}, nil
}

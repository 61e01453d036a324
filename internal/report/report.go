// Package report exports campaign history from PostgreSQL as CSV or JSON
// files.
package report

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nadmax/nexrun/internal/logger"
)

const (
	TypeCampaignSummary = "campaign_summary"
	TypeBatchBreakdown  = "batch_breakdown"
	TypeHourlyBreakdown = "hourly_breakdown"
	TypeLowYield        = "low_yield_analysis"
)

type Request struct {
	ReportType string `json:"report_type"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Format     string `json:"format"`
	OutputPath string `json:"output_path"`
}

type Generator struct {
	db *sql.DB
}

func NewGenerator(db *sql.DB) *Generator {
	return &Generator{db: db}
}

// Generate writes the requested report and returns its path.
func (g *Generator) Generate(ctx context.Context, req Request) (string, error) {
	log := logger.WithComponent("report")

	if err := normalizeRequest(&req); err != nil {
		return "", fmt.Errorf("invalid request: %w", err)
	}

	startTime, endTime, err := parseTimeRange(req)
	if err != nil {
		return "", fmt.Errorf("invalid time range: %w", err)
	}

	log.Info().
		Str("type", req.ReportType).
		Str("format", req.Format).
		Time("from", startTime).
		Time("to", endTime).
		Msg("Generating report.")

	var data [][]string
	switch req.ReportType {
	case TypeCampaignSummary:
		data, err = g.campaignSummary(ctx, startTime, endTime)
	case TypeBatchBreakdown:
		data, err = g.batchBreakdown(ctx, startTime, endTime)
	case TypeHourlyBreakdown:
		data, err = g.hourlyBreakdown(ctx, startTime, endTime)
	case TypeLowYield:
		data, err = g.lowYieldAnalysis(ctx, startTime, endTime)
	default:
		return "", fmt.Errorf("unsupported report type: %s (available: %s, %s, %s, %s)",
			req.ReportType, TypeCampaignSummary, TypeBatchBreakdown, TypeHourlyBreakdown, TypeLowYield)
	}
	if err != nil {
		return "", fmt.Errorf("failed to generate report: %w", err)
	}

	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	path, err := saveReport(req, data)
	if err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}

	log.Info().Str("path", path).Int("rows", len(data)-1).Msg("Report generated.")
	return path, nil
}

func normalizeRequest(req *Request) error {
	if req.ReportType == "" {
		return errors.New("missing required field: report_type")
	}
	if req.OutputPath == "" {
		req.OutputPath = "./reports"
	}
	if req.Format == "" {
		req.Format = "csv"
	}
	return nil
}

func parseTimeRange(req Request) (time.Time, time.Time, error) {
	var startTime, endTime time.Time
	var err error

	if req.StartTime != "" {
		startTime, err = time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start_time format: %w", err)
		}
	} else {
		startTime = time.Now().Add(-24 * time.Hour)
	}

	if req.EndTime != "" {
		endTime, err = time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end_time format: %w", err)
		}
	} else {
		endTime = time.Now()
	}

	if endTime.Before(startTime) {
		return time.Time{}, time.Time{}, errors.New("end_time is before start_time")
	}

	return startTime, endTime, nil
}

func (g *Generator) campaignSummary(ctx context.Context, startTime, endTime time.Time) ([][]string, error) {
	query := `
		SELECT
			target,
			COUNT(*) as runs,
			COUNT(*) FILTER (WHERE state = 'completed') as completed,
			COUNT(*) FILTER (WHERE state = 'stopped') as stopped,
			COUNT(*) FILTER (WHERE state = 'failed') as failed,
			SUM(successes) as successes,
			SUM(failures) as failures,
			AVG(success_rate) as avg_success_rate,
			AVG(runtime_seconds) as avg_runtime_seconds
		FROM campaign_runs
		WHERE started_at BETWEEN $1 AND $2
		GROUP BY target
		ORDER BY runs DESC
	`

	rows, err := g.db.QueryContext(ctx, query, startTime, endTime)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer closeRows(rows)

	data := [][]string{
		{"Target", "Runs", "Completed", "Stopped", "Failed", "Successes", "Failures", "Avg Success Rate (%)", "Avg Runtime (s)"},
	}

	for rows.Next() {
		var target string
		var runs, completed, stopped, failed int
		var successes, failures sql.NullInt64
		var avgRate, avgRuntime sql.NullFloat64

		if err := rows.Scan(&target, &runs, &completed, &stopped, &failed, &successes, &failures, &avgRate, &avgRuntime); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}

		data = append(data, []string{
			target,
			fmt.Sprintf("%d", runs),
			fmt.Sprintf("%d", completed),
			fmt.Sprintf("%d", stopped),
			fmt.Sprintf("%d", failed),
			formatInt64(successes),
			formatInt64(failures),
			formatFloat(avgRate, 2),
			formatFloat(avgRuntime, 1),
		})
	}

	return data, rows.Err()
}

func (g *Generator) batchBreakdown(ctx context.Context, startTime, endTime time.Time) ([][]string, error) {
	query := `
		SELECT
			campaign_id,
			COUNT(*) as batches,
			SUM(size) as tasks,
			SUM(successes) as successes,
			AVG(throughput) as avg_throughput,
			COUNT(*) FILTER (WHERE low_yield) as low_yield_batches,
			MAX(delay_seconds) as max_delay_seconds
		FROM campaign_batches
		WHERE created_at BETWEEN $1 AND $2
		GROUP BY campaign_id
		ORDER BY batches DESC
	`

	rows, err := g.db.QueryContext(ctx, query, startTime, endTime)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer closeRows(rows)

	data := [][]string{
		{"Campaign ID", "Batches", "Tasks", "Successes", "Avg Throughput (/s)", "Low Yield Batches", "Max Delay (s)"},
	}

	for rows.Next() {
		var campaignID string
		var batches, lowYield int
		var tasks, successes sql.NullInt64
		var avgThroughput, maxDelay sql.NullFloat64

		if err := rows.Scan(&campaignID, &batches, &tasks, &successes, &avgThroughput, &lowYield, &maxDelay); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}

		data = append(data, []string{
			campaignID,
			fmt.Sprintf("%d", batches),
			formatInt64(tasks),
			formatInt64(successes),
			formatFloat(avgThroughput, 2),
			fmt.Sprintf("%d", lowYield),
			formatFloat(maxDelay, 3),
		})
	}

	return data, rows.Err()
}

func (g *Generator) hourlyBreakdown(ctx context.Context, startTime, endTime time.Time) ([][]string, error) {
	query := `
		SELECT
			DATE_TRUNC('hour', created_at) as hour,
			COUNT(*) as batches,
			SUM(size) as tasks,
			SUM(successes) as successes,
			AVG(throughput) as avg_throughput
		FROM campaign_batches
		WHERE created_at BETWEEN $1 AND $2
		GROUP BY DATE_TRUNC('hour', created_at)
		ORDER BY hour DESC
	`

	rows, err := g.db.QueryContext(ctx, query, startTime, endTime)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer closeRows(rows)

	data := [][]string{
		{"Hour", "Batches", "Tasks", "Successes", "Avg Throughput (/s)"},
	}

	for rows.Next() {
		var hour time.Time
		var batches int
		var tasks, successes sql.NullInt64
		var avgThroughput sql.NullFloat64

		if err := rows.Scan(&hour, &batches, &tasks, &successes, &avgThroughput); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}

		data = append(data, []string{
			hour.Format("2006-01-02 15:00"),
			fmt.Sprintf("%d", batches),
			formatInt64(tasks),
			formatInt64(successes),
			formatFloat(avgThroughput, 2),
		})
	}

	return data, rows.Err()
}

func (g *Generator) lowYieldAnalysis(ctx context.Context, startTime, endTime time.Time) ([][]string, error) {
	query := `
		SELECT
			campaign_id, batch_number, size, successes,
			delay_seconds, created_at
		FROM campaign_batches
		WHERE created_at BETWEEN $1 AND $2
			AND low_yield
		ORDER BY created_at DESC
		LIMIT 50
	`

	rows, err := g.db.QueryContext(ctx, query, startTime, endTime)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer closeRows(rows)

	data := [][]string{
		{"Campaign ID", "Batch", "Size", "Successes", "Delay After (s)", "Finished At"},
	}

	for rows.Next() {
		var campaignID string
		var batch, size, successes int
		var delay float64
		var createdAt time.Time

		if err := rows.Scan(&campaignID, &batch, &size, &successes, &delay, &createdAt); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}

		data = append(data, []string{
			campaignID,
			fmt.Sprintf("%d", batch),
			fmt.Sprintf("%d", size),
			fmt.Sprintf("%d", successes),
			fmt.Sprintf("%.3f", delay),
			createdAt.Format("2006-01-02 15:04:05"),
		})
	}

	return data, rows.Err()
}

func formatFloat(val sql.NullFloat64, precision int) string {
	if !val.Valid {
		return "0"
	}
	return fmt.Sprintf("%.*f", precision, val.Float64)
}

func formatInt64(val sql.NullInt64) string {
	if !val.Valid {
		return "0"
	}
	return fmt.Sprintf("%d", val.Int64)
}

func saveReport(req Request, data [][]string) (string, error) {
	if err := os.MkdirAll(req.OutputPath, 0755); err != nil {
		return "", err
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("nexrun_%s_%s.%s", req.ReportType, timestamp, req.Format)
	fullPath := filepath.Join(req.OutputPath, filename)

	switch req.Format {
	case "csv":
		return fullPath, saveAsCSV(fullPath, data)
	case "json":
		return fullPath, saveAsJSON(fullPath, data)
	default:
		return "", fmt.Errorf("unsupported format: %s", req.Format)
	}
}

func saveAsCSV(path string, data [][]string) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(data); err != nil {
		return err
	}
	return writer.Error()
}

func saveAsJSON(path string, data [][]string) (err error) {
	if len(data) < 2 {
		return errors.New("insufficient data for JSON export")
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	headers := data[0]
	records := make([]map[string]string, 0, len(data)-1)
	for _, row := range data[1:] {
		record := make(map[string]string)
		for i, header := range headers {
			if i < len(row) {
				record[header] = row[i]
			}
		}
		records = append(records, record)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(map[string]any{
		"generated_at": time.Now().Format(time.RFC3339),
		"data":         records,
		"total_rows":   len(records),
	})
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logger.WithComponent("report").Error().Err(err).Msg("Failed to close rows.")
	}
}

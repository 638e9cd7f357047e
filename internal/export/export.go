// Package export renders operator-facing sync log reports.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"stayops/internal/models"
)

const sheetName = "Sync Log"

var columns = []string{"Task ID", "Connection", "Operation", "Direction", "Status", "Retries", "Error Type", "Error Message", "Created", "Updated"}

// SyncLogReport writes entries into an xlsx workbook under dir and
// returns the file path.
func SyncLogReport(entries []models.SyncLogEntry, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, col)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for row, entry := range entries {
		values := []any{
			entry.TaskID,
			entry.ConnectionID,
			entry.OperationType,
			entry.Direction,
			entry.Status,
			entry.RetryCount,
			entry.ErrorType,
			entry.ErrorMessage,
			entry.CreatedAt.Format(time.RFC3339),
			entry.UpdatedAt.Format(time.RFC3339),
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			_ = f.SetCellValue(sheetName, cell, value)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 38)
	_ = f.SetColWidth(sheetName, "B", "H", 16)
	_ = f.SetColWidth(sheetName, "I", "J", 22)
	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("sync_log_%s.xlsx", time.Now().Format("2006-01-02_150405"))
	filePath := filepath.Join(dir, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	return filePath, nil
}

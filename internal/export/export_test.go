package export

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"stayops/internal/models"
)

func TestSyncLogReport(t *testing.T) {
	now := time.Now()
	entries := []models.SyncLogEntry{
		{
			TaskID:        "task-1",
			ConnectionID:  7,
			OperationType: models.OpAvailability,
			Direction:     models.DirectionOutbound,
			Status:        models.SyncSucceeded,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		{
			TaskID:        "task-2",
			ConnectionID:  8,
			OperationType: models.OpPricing,
			Direction:     models.DirectionOutbound,
			Status:        models.SyncFailed,
			RetryCount:    4,
			ErrorType:     models.ErrTypeConnectivity,
			ErrorMessage:  "connection refused",
			CreatedAt:     now,
			UpdatedAt:     now,
		},
	}

	path, err := SyncLogReport(entries, t.TempDir())
	require.NoError(t, err)
	require.Contains(t, path, "sync_log_")

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "Task ID", rows[0][0])
	assert.Equal(t, "task-1", rows[1][0])
	assert.Equal(t, "succeeded", rows[1][4])
	assert.Equal(t, "task-2", rows[2][0])
	assert.Equal(t, "failed", rows[2][4])
	assert.Equal(t, "4", rows[2][5])
	assert.Equal(t, "connectivity", rows[2][6])
}

func TestSyncLogReportEmpty(t *testing.T) {
	path, err := SyncLogReport(nil, t.TempDir())
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 1, "only the header row")
}

package resque

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSampleStatus(t *testing.T, path string) {
	t.Helper()
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)
	h := statusHeader{
		Started:   started,
		Now:       started.Add(26*time.Hour + 5*time.Minute),
		Groups:    2,
		Processes: 2,
		Exits: []ExitInfo{
			{GroupID: 0, Type: TypeWorker},
			{GroupID: 1, Type: TypeSchedulerWorker, Status: 137, Count: 2},
		},
		Manager: StatusRow{PID: 100, Memory: 4 << 20, Type: statusManagerType, Timers: 1, Loops: 9},
	}
	require.NoError(t, writeStatusHeader(path, h))
	require.NoError(t, appendStatusRow(path, StatusRow{
		PID: 102, Memory: 3 << 20, Type: "scheduler_worker", Loops: 40, Jobs: 3,
	}))
	require.NoError(t, appendStatusRow(path, StatusRow{
		PID: 101, Memory: 2 << 20, Type: "worker", Queue: "high,low", Loops: 12, Jobs: 5, Busy: true,
	}))
}

func TestStatusFile_WriteAndParse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resque.status")
	writeSampleStatus(t, path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(statusFileMode), info.Mode().Perm())

	rep, err := ReadStatusFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Expected)
	assert.True(t, rep.Complete())

	require.Len(t, rep.Rows, 3)
	assert.Equal(t, statusManagerType, rep.Rows[0].Type)
	assert.Equal(t, 100, rep.Rows[0].PID)
	assert.Empty(t, rep.Rows[0].Queue)
	assert.Equal(t, "scheduler_worker", rep.Rows[1].Type)
	assert.Equal(t, "worker", rep.Rows[2].Type)
	assert.Equal(t, "high,low", rep.Rows[2].Queue)
	assert.True(t, rep.Rows[2].Busy)
	assert.Equal(t, int64(5), rep.Rows[2].Jobs)
	assert.InDelta(t, 2.0, rep.Rows[2].MemoryMB(), 0.01)

	global := strings.Join(rep.Global, "\n")
	assert.Contains(t, global, "Resque version: ")
	assert.Contains(t, global, "up 1 days 2 hours 5 minutes")
	assert.Contains(t, global, "1 manager(pid: 100)")
	assert.Contains(t, global, "137")
}

func TestStatusFile_Incomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resque.status")
	require.NoError(t, writeStatusHeader(path, statusHeader{
		Started: time.Now(), Now: time.Now(), Groups: 1, Processes: 3,
		Manager: StatusRow{PID: 1, Type: statusManagerType},
	}))
	require.NoError(t, appendStatusRow(path, StatusRow{PID: 2, Type: "worker", Queue: "a"}))

	rep, err := ReadStatusFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Expected)
	assert.False(t, rep.Complete())
}

func TestStatusFile_GroupsRowsByType(t *testing.T) {
	body := strings.Join([]string{
		statusGlobalLine,
		"Processes stats:    1 manager(pid: 1)   2 worker groups   3 worker processes",
		statusProcessLine,
		"3         1.00M   worker             a                        0       1            0            [idle]",
		"4         1.00M   crontab_worker     cron                     0       1            0            [idle]",
		"1         1.00M   Manager            -                        0       1            0            [idle]",
		"5         1.00M   worker             b                        0       1            0            [busy]",
	}, "\n")

	rep, err := ParseStatus(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, rep.Rows, 4)
	var pids []int
	for _, r := range rep.Rows {
		pids = append(pids, r.PID)
	}
	assert.Equal(t, []int{1, 3, 5, 4}, pids)
}

func TestAppendStatusRow_NoPath(t *testing.T) {
	assert.NoError(t, appendStatusRow("", StatusRow{PID: 1}))
}

func TestRenderStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resque.status")
	writeSampleStatus(t, path)
	rep, err := ReadStatusFile(path)
	require.NoError(t, err)

	out := RenderStatus(rep)
	assert.Contains(t, out, statusGlobalLine)
	assert.Contains(t, out, "total_loops")
	assert.Contains(t, out, "[busy]")
	assert.Contains(t, out, "[Summary]")

	sum := rep.Summary()
	assert.Equal(t, int64(61), sum.Loops)
	assert.Equal(t, int64(8), sum.Jobs)
	assert.Equal(t, int64(1), sum.Timers)
}

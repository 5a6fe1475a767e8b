package scheduler

import (
	"testing"

	"github.com/mediaforge/mediaforge/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestInfoBoard_Lifecycle(t *testing.T) {
	board := NewInfoBoard()

	board.SetProcessing("node-a", "job1", 25, 1.5)
	board.SetProcessing("node-a", "job1", 50, 2.0)
	board.SetCompleted("node-a", "job2")
	board.SetError("node-a", "job3", "no video stream")
	board.SetProcessing("node-b", "job4", 10, 0.5)

	snapshot := board.Snapshot("node-a")
	assert.Len(t, snapshot, 3)
	assert.Equal(t, models.StatusProcessing, snapshot["job1"].Status)
	assert.Equal(t, float64(50), snapshot["job1"].Progress)
	assert.InDelta(t, 2.0, snapshot["job1"].Speed, 0.001)
	assert.Equal(t, models.StatusCompleted, snapshot["job2"].Status)
	assert.Equal(t, "no video stream", snapshot["job3"].Reason)

	// Customers never see each other's jobs.
	assert.Len(t, board.Snapshot("node-b"), 1)
	assert.Empty(t, board.Snapshot("node-c"))
}

func TestInfoBoard_PurgeErrors(t *testing.T) {
	board := NewInfoBoard()
	board.SetCompleted("node-a", "done")
	board.SetError("node-a", "broken1", "x")
	board.SetError("node-a", "broken2", "y")
	board.SetError("node-b", "other", "z")

	board.PurgeErrors("node-a")

	snapshot := board.Snapshot("node-a")
	assert.Len(t, snapshot, 1)
	assert.Contains(t, snapshot, "done")

	// Other customers' errors survive.
	assert.Len(t, board.Snapshot("node-b"), 1)
}

func TestInfoBoard_Remove(t *testing.T) {
	board := NewInfoBoard()
	board.SetCompleted("node-a", "job1")
	board.Remove("node-a", "job1")
	assert.Empty(t, board.Snapshot("node-a"))

	// Removing from an unknown customer is harmless.
	board.Remove("ghost", "job")
}

func TestInfoBoard_SnapshotIsCopy(t *testing.T) {
	board := NewInfoBoard()
	board.SetCompleted("node-a", "job1")

	snapshot := board.Snapshot("node-a")
	delete(snapshot, "job1")

	assert.Len(t, board.Snapshot("node-a"), 1)
}

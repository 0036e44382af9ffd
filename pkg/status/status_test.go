package status

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	derrors "github.com/drivefs/drivefs/pkg/errors"
	"github.com/drivefs/drivefs/pkg/health"
)

func TestOperationStatus_String(t *testing.T) {
	tests := []struct {
		status   OperationStatus
		expected string
	}{
		{StatusPending, "pending"},
		{StatusInProgress, "in_progress"},
		{StatusCompleted, "completed"},
		{StatusFailed, "failed"},
		{StatusCanceled, "canceled"},
		{OperationStatus(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.status.String(); got != tt.expected {
				t.Errorf("String() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestTracker_StartOperation(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	ctx := context.Background()

	metadata := map[string]interface{}{
		"backend":    "s3",
		"mount_path": "/mnt/photos",
	}

	op, opCtx := tracker.StartOperation(ctx, "mount", metadata)
	if op == nil {
		t.Fatal("StartOperation returned nil operation")
	}
	if op.ID == "" {
		t.Error("Operation ID is empty")
	}
	if op.Type != "mount" {
		t.Errorf("Expected type=mount, got %q", op.Type)
	}
	if op.Status != StatusInProgress {
		t.Errorf("Expected StatusInProgress, got %s", op.Status)
	}
	if opCtx == nil {
		t.Error("Operation context is nil")
	}
	if op.Metadata["backend"] != "s3" {
		t.Errorf("Expected backend=s3, got %v", op.Metadata["backend"])
	}
}

func TestTracker_UpdateProgress(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	ctx := context.Background()

	op, _ := tracker.StartOperation(ctx, "flush", nil)

	if err := tracker.UpdateProgress(op.ID, 50, 100, "bytes"); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}

	got, err := tracker.GetOperation(op.ID)
	if err != nil {
		t.Fatalf("GetOperation failed: %v", err)
	}
	if got.Progress == nil {
		t.Fatal("Progress is nil")
	}
	if got.Progress.Current != 50 || got.Progress.Total != 100 {
		t.Errorf("Expected 50/100, got %d/%d", got.Progress.Current, got.Progress.Total)
	}
	if got.Progress.Unit != "bytes" {
		t.Errorf("Expected unit=bytes, got %q", got.Progress.Unit)
	}
	if got.Progress.Percentage != 50.0 {
		t.Errorf("Expected percentage=50.0, got %f", got.Progress.Percentage)
	}
}

func TestTracker_UnknownOperationErrors(t *testing.T) {
	tracker := NewTracker(DefaultConfig())

	err := tracker.UpdateProgress("no-such-op", 50, 100, "bytes")
	if err == nil {
		t.Fatal("Expected error for unknown operation")
	}
	var dfsErr *derrors.DriveFSError
	if !errors.As(err, &dfsErr) || dfsErr.Code != derrors.ErrCodeNotFound {
		t.Errorf("Expected NOT_FOUND drive error, got %v", err)
	}

	if _, err := tracker.GetOperation("no-such-op"); err == nil {
		t.Error("Expected error from GetOperation")
	}
	if err := tracker.CompleteOperation("no-such-op"); err == nil {
		t.Error("Expected error from CompleteOperation")
	}
	if _, err := tracker.Subscribe("no-such-op"); err == nil {
		t.Error("Expected error from Subscribe")
	}
}

func TestTracker_SetPhaseAndMessage(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	ctx := context.Background()

	op, _ := tracker.StartOperation(ctx, "mount", nil)

	if err := tracker.SetPhase(op.ID, "connecting"); err != nil {
		t.Fatalf("SetPhase failed: %v", err)
	}
	if err := tracker.SetMessage(op.ID, "waiting for kernel"); err != nil {
		t.Fatalf("SetMessage failed: %v", err)
	}

	got, _ := tracker.GetOperation(op.ID)
	if got.Progress == nil {
		t.Fatal("Progress is nil")
	}
	if got.Progress.Phase != "connecting" {
		t.Errorf("Expected phase=connecting, got %q", got.Progress.Phase)
	}
	if got.Progress.Message != "waiting for kernel" {
		t.Errorf("Expected message set, got %q", got.Progress.Message)
	}
}

func TestTracker_CompleteOperation(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	ctx := context.Background()

	op, _ := tracker.StartOperation(ctx, "unmount", nil)

	if err := tracker.CompleteOperation(op.ID); err != nil {
		t.Fatalf("CompleteOperation failed: %v", err)
	}

	// Finished operations leave the active set.
	if _, err := tracker.GetOperation(op.ID); err == nil {
		t.Error("Expected error when getting completed operation")
	}

	history := tracker.GetHistory(10)
	if len(history) != 1 {
		t.Fatalf("Expected 1 operation in history, got %d", len(history))
	}
	if history[0].Status != StatusCompleted {
		t.Errorf("Expected StatusCompleted, got %s", history[0].Status)
	}
	if history[0].EndTime == nil {
		t.Error("EndTime is nil for completed operation")
	}
}

func TestTracker_FailOperationKeepsDriveError(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	ctx := context.Background()

	op, _ := tracker.StartOperation(ctx, "flush", nil)

	cause := derrors.NewError(derrors.ErrCodeBackendIO, "flush failed")
	if err := tracker.FailOperation(op.ID, cause); err != nil {
		t.Fatalf("FailOperation failed: %v", err)
	}

	history := tracker.GetHistory(10)
	if len(history) != 1 {
		t.Fatalf("Expected 1 operation in history, got %d", len(history))
	}
	if history[0].Status != StatusFailed {
		t.Errorf("Expected StatusFailed, got %s", history[0].Status)
	}
	if history[0].Error == nil {
		t.Fatal("Error is nil for failed operation")
	}
	if history[0].Error.Code != derrors.ErrCodeBackendIO {
		t.Errorf("Expected BACKEND_IO, got %s", history[0].Error.Code)
	}
}

func TestTracker_FailOperationWrapsPlainError(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	ctx := context.Background()

	op, _ := tracker.StartOperation(ctx, "flush", nil)

	cause := fmt.Errorf("connection reset")
	if err := tracker.FailOperation(op.ID, cause); err != nil {
		t.Fatalf("FailOperation failed: %v", err)
	}

	history := tracker.GetHistory(1)
	if history[0].Error == nil {
		t.Fatal("Error is nil")
	}
	if history[0].Error.Code != derrors.ErrCodeInternalError {
		t.Errorf("Expected INTERNAL_ERROR wrapper, got %s", history[0].Error.Code)
	}
	if !errors.Is(history[0].Error, cause) {
		t.Error("Expected original cause to stay reachable via errors.Is")
	}
}

func TestTracker_CancelOperation(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	ctx := context.Background()

	op, opCtx := tracker.StartOperation(ctx, "transfer", nil)

	if err := tracker.CancelOperation(op.ID); err != nil {
		t.Fatalf("CancelOperation failed: %v", err)
	}

	select {
	case <-opCtx.Done():
	case <-time.After(100 * time.Millisecond):
		t.Error("Operation context was not canceled")
	}

	history := tracker.GetHistory(10)
	if len(history) != 1 {
		t.Fatalf("Expected 1 operation in history, got %d", len(history))
	}
	if history[0].Status != StatusCanceled {
		t.Errorf("Expected StatusCanceled, got %s", history[0].Status)
	}
}

func TestTracker_GetAllOperations(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	ctx := context.Background()

	op1, _ := tracker.StartOperation(ctx, "mount", nil)
	op2, _ := tracker.StartOperation(ctx, "flush", nil)
	op3, _ := tracker.StartOperation(ctx, "flush", nil)

	allOps := tracker.GetAllOperations()
	if len(allOps) != 3 {
		t.Fatalf("Expected 3 operations, got %d", len(allOps))
	}

	found := make(map[string]bool)
	for _, op := range allOps {
		found[op.ID] = true
	}
	if !found[op1.ID] || !found[op2.ID] || !found[op3.ID] {
		t.Error("Not all started operations were returned")
	}
}

func TestTracker_GetHistoryLimit(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		op, _ := tracker.StartOperation(ctx, fmt.Sprintf("op-%d", i), nil)
		if err := tracker.CompleteOperation(op.ID); err != nil {
			t.Fatalf("CompleteOperation failed: %v", err)
		}
	}

	if got := tracker.GetHistory(3); len(got) != 3 {
		t.Errorf("Expected 3 operations, got %d", len(got))
	}
	if got := tracker.GetHistory(0); len(got) != 5 {
		t.Errorf("Expected full history of 5, got %d", len(got))
	}

	// Newest first.
	all := tracker.GetHistory(0)
	if all[0].Type != "op-4" {
		t.Errorf("Expected newest entry first, got %q", all[0].Type)
	}
}

func TestTracker_HistoryIsBounded(t *testing.T) {
	config := DefaultConfig()
	config.MaxHistorySize = 3
	tracker := NewTracker(config)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		op, _ := tracker.StartOperation(ctx, fmt.Sprintf("op-%d", i), nil)
		if err := tracker.CompleteOperation(op.ID); err != nil {
			t.Fatalf("CompleteOperation failed: %v", err)
		}
	}

	if got := tracker.GetHistory(0); len(got) != 3 {
		t.Errorf("Expected history capped at 3, got %d", len(got))
	}
}

func TestTracker_Subscribe(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	ctx := context.Background()

	op, _ := tracker.StartOperation(ctx, "transfer", nil)

	updates, err := tracker.Subscribe(op.ID)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := tracker.UpdateProgress(op.ID, 50, 100, "bytes"); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}

	select {
	case update := <-updates:
		if update.Operation.ID != op.ID {
			t.Errorf("Expected operation %s, got %s", op.ID, update.Operation.ID)
		}
		if update.Message != "progress updated" {
			t.Errorf("Unexpected message %q", update.Message)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Did not receive update notification")
	}
}

func TestTracker_SubscriberSeesCompletion(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	ctx := context.Background()

	op, _ := tracker.StartOperation(ctx, "flush", nil)
	updates, err := tracker.Subscribe(op.ID)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := tracker.CompleteOperation(op.ID); err != nil {
		t.Fatalf("CompleteOperation failed: %v", err)
	}

	select {
	case update := <-updates:
		if update.Operation.Status != StatusCompleted {
			t.Errorf("Expected StatusCompleted in final update, got %s", update.Operation.Status)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Did not receive completion update")
	}
}

func TestTracker_GetSystemStatus(t *testing.T) {
	config := DefaultConfig()
	config.HealthTracker = health.NewTracker(health.DefaultConfig())
	tracker := NewTracker(config)
	ctx := context.Background()

	tracker.StartOperation(ctx, "flush", nil)
	tracker.StartOperation(ctx, "mount", nil)
	tracker.StartOperation(ctx, "flush", nil)

	st := tracker.GetSystemStatus()
	if st == nil {
		t.Fatal("GetSystemStatus returned nil")
	}
	if st.ActiveOps != 3 {
		t.Errorf("Expected 3 active operations, got %d", st.ActiveOps)
	}
	if st.OperationsByType["flush"] != 2 {
		t.Errorf("Expected 2 flush operations, got %d", st.OperationsByType["flush"])
	}
	if st.OperationsByType["mount"] != 1 {
		t.Errorf("Expected 1 mount operation, got %d", st.OperationsByType["mount"])
	}
	if st.HealthState != health.StateHealthy {
		t.Errorf("Expected healthy state, got %s", st.HealthState)
	}
}

func TestProgress_Update(t *testing.T) {
	progress := &Progress{Unit: "bytes"}

	progress.Update(25, 100)
	if progress.Current != 25 || progress.Total != 100 {
		t.Errorf("Expected 25/100, got %d/%d", progress.Current, progress.Total)
	}
	if progress.Percentage != 25.0 {
		t.Errorf("Expected percentage=25.0, got %f", progress.Percentage)
	}
	if progress.Rate != 0 {
		t.Errorf("Expected no rate after single sample, got %f", progress.Rate)
	}

	time.Sleep(10 * time.Millisecond)
	progress.Update(75, 100)

	if progress.Rate <= 0 {
		t.Error("Expected positive rate after second sample")
	}
	if progress.ETA == nil {
		t.Error("Expected ETA after second sample")
	}
}

func TestProgress_Copy(t *testing.T) {
	original := &Progress{
		Current:    50,
		Total:      100,
		Unit:       "bytes",
		Percentage: 50.0,
		Rate:       1000.0,
		Phase:      "uploading",
		Message:    "in progress",
	}
	eta := 5 * time.Second
	original.ETA = &eta

	snapshot := original.Copy()
	if snapshot.Current != original.Current {
		t.Error("Current not copied")
	}
	if snapshot.ETA == nil || *snapshot.ETA != *original.ETA {
		t.Error("ETA not copied")
	}

	snapshot.Current = 75
	if original.Current == 75 {
		t.Error("Copy is not independent from original")
	}
}

func TestOperation_Copy(t *testing.T) {
	now := time.Now()
	original := &Operation{
		ID:        "1700000000-1",
		Type:      "flush",
		Status:    StatusInProgress,
		StartTime: now,
		EndTime:   &now,
		Metadata:  map[string]interface{}{"key": "value"},
		Progress:  &Progress{Current: 50, Total: 100},
	}

	snapshot := original.Copy()
	if snapshot.ID != original.ID {
		t.Error("ID not copied")
	}
	if snapshot.Progress == nil || snapshot.Progress.Current != 50 {
		t.Error("Progress not copied")
	}

	snapshot.Progress.Current = 75
	if original.Progress.Current == 75 {
		t.Error("Progress is not independent")
	}
	snapshot.Metadata["key"] = "modified"
	if original.Metadata["key"] == "modified" {
		t.Error("Metadata is not independent")
	}
	*snapshot.EndTime = now.Add(time.Hour)
	if original.EndTime.Equal(now.Add(time.Hour)) {
		t.Error("EndTime is not independent")
	}
}

func TestTracker_ParentContextCancellation(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())

	op, opCtx := tracker.StartOperation(ctx, "transfer", nil)
	cancel()

	select {
	case <-opCtx.Done():
	case <-time.After(100 * time.Millisecond):
		t.Error("Operation context should inherit parent cancellation")
	}

	// Cancellation of the context does not finish the operation; that
	// is the caller's call.
	if _, err := tracker.GetOperation(op.ID); err != nil {
		t.Error("Operation should still be tracked after context cancellation")
	}
}

func TestNewOperationID(t *testing.T) {
	id1 := newOperationID()
	id2 := newOperationID()

	if id1 == "" {
		t.Error("Generated empty operation ID")
	}
	if id1 == id2 {
		t.Error("Generated duplicate operation IDs")
	}
}

func BenchmarkTracker_StartOperation(b *testing.B) {
	tracker := NewTracker(DefaultConfig())
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tracker.StartOperation(ctx, "flush", nil)
	}
}

func BenchmarkTracker_UpdateProgress(b *testing.B) {
	tracker := NewTracker(DefaultConfig())
	ctx := context.Background()
	op, _ := tracker.StartOperation(ctx, "flush", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = tracker.UpdateProgress(op.ID, int64(i), 1000000, "bytes")
	}
}

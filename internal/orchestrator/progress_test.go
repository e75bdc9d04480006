package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/querydesk/internal/agent"
	"github.com/dusk-indust/querydesk/internal/fusion"
)

func TestProgressReporter_EmitAndSubscribe(t *testing.T) {
	pr := NewProgressReporter()
	defer pr.Close()

	ch := pr.Subscribe()
	want := ProgressEvent{
		Phase:   PhaseAgent,
		Section: "table",
		Status:  ProgressWorking,
		Message: "generating",
	}

	pr.Emit(want)

	select {
	case got := <-ch:
		assert.Equal(t, want, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for progress event")
	}
}

func TestProgressReporter_EmitWhenFull_DoesNotBlock(t *testing.T) {
	pr := NewProgressReporter()
	defer pr.Close()

	// The internal channel buffer is 64. Emitting 100 events must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			pr.Emit(ProgressEvent{
				Phase:   PhaseAgent,
				Section: "section",
				Status:  ProgressWorking,
				Message: "msg",
			})
		}
		close(done)
	}()

	select {
	case <-done:
		// Success: all 100 emits returned without blocking.
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked when the channel was full")
	}
}

func TestProgressReporter_Close_ChannelClosed(t *testing.T) {
	pr := NewProgressReporter()
	ch := pr.Subscribe()

	pr.Emit(ProgressEvent{
		Phase:   PhaseFusion,
		Section: "progress",
		Status:  ProgressComplete,
	})
	pr.Close()

	// Range over the channel; it must terminate because Close was called.
	var received []ProgressEvent
	for ev := range ch {
		received = append(received, ev)
	}
	require.Len(t, received, 1)
	assert.Equal(t, ProgressComplete, received[0].Status)
}

func TestFormatProgress_AllStatuses(t *testing.T) {
	tests := []struct {
		name   string
		event  ProgressEvent
		expect string
	}{
		{
			name:   "pending",
			event:  ProgressEvent{Section: "analytics", Status: ProgressPending},
			expect: "  \u25cb analytics (pending)",
		},
		{
			name:   "working",
			event:  ProgressEvent{Section: "analytics", Status: ProgressWorking},
			expect: "  \u25cf analytics...",
		},
		{
			name:   "complete",
			event:  ProgressEvent{Section: "analytics", Status: ProgressComplete},
			expect: "  \u2713 analytics complete",
		},
		{
			name:   "failed",
			event:  ProgressEvent{Section: "analytics", Status: ProgressFailed, Message: "timeout"},
			expect: "  \u2717 analytics failed: timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatProgress(tt.event)
			assert.Equal(t, tt.expect, got)
		})
	}
}

func TestFormatProgress_CompleteWithMessage(t *testing.T) {
	got := FormatProgress(ProgressEvent{Phase: PhaseClassify, Section: "intent", Status: ProgressComplete, Message: "fusion"})
	assert.Equal(t, "  \u2713 intent: fusion", got)
}

func TestFusionEvents(t *testing.T) {
	pr := NewProgressReporter()
	defer pr.Close()

	FusionEvents(pr)(fusion.Event{Side: agent.RoleTable, Status: fusion.StatusFailed, Message: "boom"})

	got := <-pr.Subscribe()
	assert.Equal(t, ProgressEvent{Phase: PhaseFusion, Section: "table", Status: ProgressFailed, Message: "boom"}, got)
}

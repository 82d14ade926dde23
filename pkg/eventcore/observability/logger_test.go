package observability

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNilLoggerIsSafe(t *testing.T) {
	// Every helper must tolerate a nil logger.
	LogPublish(nil, "flow.step.completed", "general", "enqueued", 1.0)
	LogPublishFallback(nil, "flow.step.completed", "general", errors.New("down"))
	LogClaim(nil, "general", 3)
	LogSweep(nil, "general", 1)
	LogDeadLetter(nil, "rec-1", "general", "permanent", 3)
	assert.Nil(t, EnrichLogger(nil, "e", "c", "l"))
}

func TestEnrichLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	enriched := EnrichLogger(logger, "evt-1", "corr-1", "realtime")
	enriched.Info("claimed")

	out := buf.String()
	assert.Contains(t, out, `"event_id":"evt-1"`)
	assert.Contains(t, out, `"correlation_id":"corr-1"`)
	assert.Contains(t, out, `"lane":"realtime"`)
}

func TestLogPublishFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	LogPublish(logger, "ml.trial.failed", "general", "enqueued", 2.5)

	out := buf.String()
	assert.Contains(t, out, `"event_name":"ml.trial.failed"`)
	assert.Contains(t, out, `"outcome":"enqueued"`)
	assert.Contains(t, out, `"duration_ms":2.5`)
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, done(), 5.0)
}

package syncmetrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager_Disabled_ReturnsNoop(t *testing.T) {
	rec := NewManager(Config{Enabled: false})
	_, ok := rec.(noopRecorder)
	assert.True(t, ok)

	// noop methods must be safe to call with zero values.
	rec.RecordLoopIteration("widgets", "entity-update", "idle")
	rec.RecordChangesetApplied("widgets", true)
	rec.RecordChangesetPublished("widgets")
	rec.RecordConsolidation("widgets", time.Millisecond, 1, nil)
	rec.Start(context.Background())
	rec.Stop()
}

func TestNewManager_Enabled_RegistersWithoutPanicking(t *testing.T) {
	require.NotPanics(t, func() {
		rec := NewManager(Config{Enabled: true, HostSampleSeconds: 1})
		rec.RecordLoopIteration("widgets", "entity-update", "idle")
		rec.RecordChangesetApplied("widgets", false)
		rec.RecordChangesetPublished("widgets")
		rec.RecordConsolidation("widgets", time.Millisecond, 3, nil)
		rec.RecordConsolidation("widgets", time.Millisecond, 0, errors.New("boom"))
	})
}

func TestManager_Handler_ServesPrometheusFormat(t *testing.T) {
	rec := NewManager(Config{Enabled: true})
	rec.RecordChangesetPublished("widgets")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	rec.Handler().ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "driftsync_changesets_published_total")
}

func TestManager_StartStop(t *testing.T) {
	rec := NewManager(Config{Enabled: true, HostSampleSeconds: 1})
	ctx, cancel := context.WithCancel(context.Background())
	rec.Start(ctx)
	cancel()
	rec.Stop()
}

func TestBoolLabel(t *testing.T) {
	assert.Equal(t, "true", boolLabel(true))
	assert.Equal(t, "false", boolLabel(false))
}

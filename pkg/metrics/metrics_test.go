package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndTextfile(t *testing.T) {
	m := New()
	m.ObserveMutation("append", ResultOK, 0.01)
	m.ObserveMutation("append", ResultOK, 0.02)
	m.ObserveConflict("append")
	m.ObserveNotification("chat:message-appended", nil)
	m.ObserveNotification("chat:message-appended", errors.New("down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Mutations.WithLabelValues("append", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Conflicts.WithLabelValues("append")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("chat:message-appended", ResultError)))

	path := filepath.Join(t.TempDir(), "chatctl.prom")
	require.NoError(t, m.WriteTextfile(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `chatctl_mutations_total{operation="append",result="ok"} 2`)
	assert.Contains(t, string(b), `chatctl_version_conflicts_total{operation="append"} 1`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveMutation("append", ResultOK, 1)
		m.ObserveConflict("append")
		m.ObserveNotification("x", nil)
		require.NoError(t, m.WriteTextfile("/nonexistent/path"))
	})
}

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	assert.Equal(t, "test", entry.Entry.Data["component"])
}

func TestConfigureInvalidLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	assert.Error(t, log.Configure("invalid", "json", "stdout", 0))
	assert.Error(t, log.Configure("info", "xml", "stdout", 0))
}

func TestConfigureReportAlias(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	require.NoError(t, log.Configure("report", "text", "stderr", 0))
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}

func TestConfigureEnvOverride(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")

	log := Logger()
	require.NoError(t, log.Configure("warn", "json", "stdout", 0))
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
}

func TestConfigureFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	path := filepath.Join(t.TempDir(), "tradedash.log")

	log := Logger()
	require.NoError(t, log.Configure("info", "json", path, 0))
	log.WithComponent("test").Info("written")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"written"`)
}

func TestWithEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	assert.Equal(t, "bar", entry.Entry.Data["FOO"])
}

func TestJSONOutputFields(t *testing.T) {
	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)
	log.SetLevel(logrus.DebugLevel)

	LogPerformanceEntry(log.WithComponent("caller"), "snapshot_fetcher", "fetch_snapshot", 1500*time.Microsecond, nil)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "performance metric", out["message"])
	assert.Equal(t, "snapshot_fetcher", out["component"])
	assert.Equal(t, 1.5, out["duration_ms"])
}

func TestWarnAndErrorAreCounted(t *testing.T) {
	log := Logger()
	log.SetOutput(&bytes.Buffer{})

	before := Collect()
	log.WithComponent("counting").Warn("w")
	log.WithComponent("counting").Error("e")
	log.WithComponent("counting").Error("e")
	after := Collect()

	assert.Equal(t, before.Warns["counting"]+1, after.Warns["counting"])
	assert.Equal(t, before.Errors["counting"]+2, after.Errors["counting"])
}

func TestCountersAndReportSink(t *testing.T) {
	before := Collect()
	RecordTick(64)
	RecordReconnect()
	RecordDecodeError()
	RecordRefresh(true)
	RecordRefresh(false)
	RecordOrder(true)
	RecordOrder(false)
	after := Collect()

	assert.Equal(t, before.Ticks+1, after.Ticks)
	assert.Equal(t, before.TickBytes+64, after.TickBytes)
	assert.Equal(t, before.Reconnects+1, after.Reconnects)
	assert.Equal(t, before.DecodeErrors+1, after.DecodeErrors)
	assert.Equal(t, before.RefreshOK+1, after.RefreshOK)
	assert.Equal(t, before.RefreshFailed+1, after.RefreshFailed)
	assert.Equal(t, before.OrdersOK+1, after.OrdersOK)
	assert.Equal(t, before.OrdersFailed+1, after.OrdersFailed)

	var samples atomic.Int32
	SetReportSink(func(Report) { samples.Add(1) })
	defer SetReportSink(nil)

	log := Logger()
	log.SetOutput(&bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartReport(ctx, log, 5*time.Millisecond)

	require.Eventually(t, func() bool { return samples.Load() > 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestCallerHookSkipsWrappers(t *testing.T) {
	h := newCallerHook()
	assert.True(t, h.wrapped("github.com/sirupsen/logrus.(*Entry).Log"))
	assert.True(t, h.wrapped("tradedash/logger.(*Entry).Info"))
	assert.False(t, h.wrapped("tradedash/internal/coordinator.(*Coordinator).completeRefresh"))
	assert.False(t, h.wrapped("tradedash/logger_test.TestSomething"))

	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.JSONFormatter{})
	log.WithComponent("caller").Info("where")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	file, _ := line["file"].(string)
	assert.NotContains(t, file, "sirupsen/logrus")
}

package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func TestFileWatcher_HandlesNewAPK(t *testing.T) {
	dir := t.TempDir()
	handled := make(chan string, 1)

	fw, err := NewFileWatcher(dir, "*.apk", func(_ context.Context, path string) error {
		handled <- path
		return nil
	}, testLogger())
	require.NoError(t, err)
	defer fw.Stop()

	// 缩短防抖窗口，避免测试等太久
	fw.debounce = 100 * time.Millisecond

	require.NoError(t, fw.Start(context.Background()))

	apkPath := filepath.Join(dir, "app.apk")
	require.NoError(t, os.WriteFile(apkPath, []byte("PK\x03\x04 fake apk"), 0644))

	select {
	case got := <-handled:
		assert.Equal(t, apkPath, got)
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called for new apk")
	}
}

func TestFileWatcher_IgnoresNonMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	handled := make(chan string, 1)

	fw, err := NewFileWatcher(dir, "*.apk", func(_ context.Context, path string) error {
		handled <- path
		return nil
	}, testLogger())
	require.NoError(t, err)
	defer fw.Stop()

	fw.debounce = 100 * time.Millisecond
	require.NoError(t, fw.Start(context.Background()))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not an apk"), 0644))

	select {
	case got := <-handled:
		t.Fatalf("handler should not be called for %s", got)
	case <-time.After(1500 * time.Millisecond):
	}
}

func TestFileWatcher_CreatesWatchDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "inbound", "apks")

	fw, err := NewFileWatcher(dir, "*.apk", func(_ context.Context, _ string) error {
		return nil
	}, testLogger())
	require.NoError(t, err)
	defer fw.Stop()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, dir, fw.GetWatchDir())
}

func TestMatchPattern(t *testing.T) {
	fw := &FileWatcher{pattern: "*.apk"}

	assert.True(t, fw.matchPattern("app.apk"))
	assert.True(t, fw.matchPattern("APP.APK"))
	assert.False(t, fw.matchPattern("app.txt"))
	assert.False(t, fw.matchPattern("apk"))

	fw.pattern = "*"
	assert.True(t, fw.matchPattern("anything"))

	fw.pattern = "exact.apk"
	assert.True(t, fw.matchPattern("exact.apk"))
	assert.False(t, fw.matchPattern("other.apk"))
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherInitialLoadAndReload(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, settingsFileName, "provider: openai\n")

	loader, err := NewLoader(dir, nil)
	require.NoError(t, err)

	changes := make(chan *Settings, 4)
	w, err := NewWatcher(loader,
		WithDebounce(20*time.Millisecond),
		OnChange(func(s *Settings) { changes <- s }),
	)
	require.NoError(t, err)

	initial, err := w.Start()
	require.NoError(t, err)
	assert.Equal(t, "openai", initial.Provider)

	// Start fires the callback with the initial settings.
	select {
	case s := <-changes:
		assert.Equal(t, "openai", s.Provider)
	case <-time.After(time.Second):
		t.Fatal("initial change never fired")
	}

	writeFile(t, dir, settingsFileName, "provider: openai\nmodel: gpt-4o\n")
	select {
	case s := <-changes:
		assert.Equal(t, "gpt-4o", s.Model)
	case <-time.After(3 * time.Second):
		t.Fatal("reload never fired")
	}

	require.NoError(t, w.Close())
}

func TestWatcherSkipsNoopReload(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, settingsFileName, "provider: openai\n")

	loader, err := NewLoader(dir, nil)
	require.NoError(t, err)

	changes := make(chan *Settings, 4)
	w, err := NewWatcher(loader,
		WithDebounce(20*time.Millisecond),
		OnChange(func(s *Settings) { changes <- s }),
	)
	require.NoError(t, err)

	_, err = w.Start()
	require.NoError(t, err)
	<-changes // initial

	// Rewrite identical content; the hash matches and no change fires.
	writeFile(t, dir, settingsFileName, "provider: openai\n")
	select {
	case <-changes:
		t.Fatal("identical content must not notify")
	case <-time.After(300 * time.Millisecond):
	}

	require.NoError(t, w.Close())
}

func TestWatcherReportsReloadErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, settingsFileName, "provider: openai\n")

	loader, err := NewLoader(dir, nil)
	require.NoError(t, err)

	errs := make(chan error, 4)
	w, err := NewWatcher(loader,
		WithDebounce(20*time.Millisecond),
		OnError(func(e error) { errs <- e }),
	)
	require.NoError(t, err)

	_, err = w.Start()
	require.NoError(t, err)

	writeFile(t, dir, settingsFileName, "provider: [broken\n")
	select {
	case e := <-errs:
		assert.Error(t, e)
	case <-time.After(3 * time.Second):
		t.Fatal("reload error never surfaced")
	}

	require.NoError(t, w.Close())
}

func TestWatcherRequiresLoader(t *testing.T) {
	_, err := NewWatcher(nil)
	assert.Error(t, err)
}

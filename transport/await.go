package transport

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// awaitPollInterval backs the polling fallback when fsnotify is
// unavailable, and covers events raced before the watcher was armed.
const awaitPollInterval = 250 * time.Millisecond

// AwaitSocket blocks until path exists or ctx is done. It is useful when
// the client starts the daemon itself and needs to wait for the listener
// before the first call.
//
// Creation is watched through fsnotify on the socket's directory, with a
// polling fallback when the watcher cannot be established (some
// filesystems, notably network mounts, do not deliver events).
func AwaitSocket(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return pollSocket(ctx, path)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return pollSocket(ctx, path)
	}

	// Re-check after arming the watcher: the socket may have appeared
	// between the Stat above and the Add.
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	ticker := time.NewTicker(awaitPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return pollSocket(ctx, path)
			}
			if event.Op&fsnotify.Create != 0 && event.Name == path {
				return nil
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return pollSocket(ctx, path)
			}
			// Watch errors are not fatal; the ticker still covers us.
		case <-ticker.C:
			if _, err := os.Stat(path); err == nil {
				return nil
			}
		}
	}
}

func pollSocket(ctx context.Context, path string) error {
	ticker := time.NewTicker(awaitPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := os.Stat(path); err == nil {
				return nil
			}
		}
	}
}

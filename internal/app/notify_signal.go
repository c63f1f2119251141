package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// NotifySignalName is the signal file a store touches after every write when
// it has no per-record files to watch (sqlite).
const NotifySignalName = ".agentshq-notify"

var lastRevision atomic.Int64

// nextRevision returns a nanosecond timestamp that is strictly greater than
// any revision this process handed out before.
func nextRevision() int64 {
	for {
		prev := lastRevision.Load()
		rev := time.Now().UnixNano()
		if rev <= prev {
			rev = prev + 1
		}
		if lastRevision.CompareAndSwap(prev, rev) {
			return rev
		}
	}
}

// TouchNotifySignal records a new store revision in the signal file after a
// write, which makes any Watcher on its directory resync, in this process or
// another. The directory is created on demand. An empty path disables
// signalling.
func TouchNotifySignal(signalPath string) error {
	if signalPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(signalPath), 0o755); err != nil {
		return fmt.Errorf("create signal dir for %s: %w", filepath.Base(signalPath), err)
	}
	return os.WriteFile(signalPath, []byte(strconv.FormatInt(nextRevision(), 10)), 0o644)
}

// readSignalRevision returns the revision in the signal file, or "" if unreadable.
func readSignalRevision(signalPath string) string {
	data, err := os.ReadFile(signalPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

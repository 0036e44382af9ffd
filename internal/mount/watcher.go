package mount

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const defaultWatchInterval = 30 * time.Second

// procMounts is swappable so tests can point the probe at a fixture.
var procMounts = "/proc/mounts"

// Watcher periodically compares the manager's view of the mount against
// the kernel mount table and logs drift. It only observes; recovery is
// the operator's call.
type Watcher struct {
	manager  *Manager
	interval time.Duration
	logger   *log.Entry
	stopCh   chan struct{}
	stopped  chan struct{}
}

// NewWatcher builds a watcher for manager. A zero interval means the
// default of 30 seconds.
func NewWatcher(manager *Manager, interval time.Duration) *Watcher {
	if interval == 0 {
		interval = defaultWatchInterval
	}
	return &Watcher{
		manager:  manager,
		interval: interval,
		logger:   manager.logger.WithField("component", "watcher"),
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start begins watching in the background.
func (w *Watcher) Start() {
	go w.run()
}

// Stop halts the watcher and waits for it to finish.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.stopped
}

func (w *Watcher) run() {
	defer close(w.stopped)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	listed, ok := InMountTable(w.manager.opts.MountPath)
	if !ok {
		// No readable mount table on this platform.
		return
	}

	expected := w.manager.State() == StateMounted
	if expected == listed {
		return
	}
	if expected {
		w.logger.WithField("path", w.manager.opts.MountPath).Warn("mounted filesystem missing from the kernel mount table")
	} else {
		w.logger.WithField("path", w.manager.opts.MountPath).Warn("mount table still lists a filesystem this process no longer serves")
	}
}

// InMountTable reports whether path appears as a mount point. The second
// result is false when the mount table cannot be read.
func InMountTable(path string) (bool, bool) {
	data, err := os.ReadFile(procMounts)
	if err != nil {
		return false, false
	}

	clean := filepath.Clean(path)
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == clean {
			return true, true
		}
	}
	return false, true
}

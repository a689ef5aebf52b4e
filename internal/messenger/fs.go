package messenger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/vburojevic/heirlock/internal/domain"
)

// DefaultSpoolRetention is how long broadcast files stay in the spool.
const DefaultSpoolRetention = time.Minute

// FSTransport broadcasts to sibling host instances through a shared spool
// directory. Every message is one file, renamed into place so readers never
// see partial content; instances watch the directory with fsnotify.
type FSTransport struct {
	dir       string
	retention time.Duration
	clock     clock.Clock
	logger    *zap.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

var _ Transport = (*FSTransport)(nil)

// NewFSTransport creates a transport spooling into dir.
func NewFSTransport(dir string, clk clock.Clock, logger *zap.Logger) *FSTransport {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FSTransport{
		dir:       dir,
		retention: DefaultSpoolRetention,
		clock:     clk,
		logger:    logger.With(zap.String("component", "fs-transport"), zap.String("dir", dir)),
	}
}

// Start begins watching the spool directory.
func (t *FSTransport) Start(deliver func(domain.Message)) error {
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create spool directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(t.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch spool directory: %w", err)
	}

	t.mu.Lock()
	t.watcher = watcher
	t.done = make(chan struct{})
	done := t.done
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.watch(watcher, done, deliver)
	}()
	return nil
}

func (t *FSTransport) watch(watcher *fsnotify.Watcher, done chan struct{}, deliver func(domain.Message)) {
	for {
		select {
		case <-done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !isSpoolFile(event.Name) {
				continue
			}
			msg, err := readSpoolFile(event.Name)
			if err != nil {
				// removed by pruning, or not fully visible yet
				t.logger.Debug("skipping spool file", zap.String("file", event.Name), zap.Error(err))
				continue
			}
			deliver(msg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			t.logger.Warn("spool watcher error", zap.Error(err))
		}
	}
}

// Send writes msg into the spool.
func (t *FSTransport) Send(msg domain.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(t.dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	now := t.clock.Now()
	name := fmt.Sprintf("%020d-%s-%08d.json", now.UnixNano(), sanitizeSender(msg.Sender), msg.Seq)
	if err := os.Rename(tmp.Name(), filepath.Join(t.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	t.prune(now)
	return nil
}

// prune removes spool files older than the retention window.
func (t *FSTransport) prune(now time.Time) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return
	}
	cutoff := now.Add(-t.retention).UnixNano()
	for _, e := range entries {
		if !isSpoolFile(e.Name()) {
			continue
		}
		stamp, err := strconv.ParseInt(strings.SplitN(e.Name(), "-", 2)[0], 10, 64)
		if err != nil || stamp >= cutoff {
			continue
		}
		os.Remove(filepath.Join(t.dir, e.Name()))
	}
}

// Close stops the watcher. Spool files are left for pruning.
func (t *FSTransport) Close() error {
	t.mu.Lock()
	watcher, done := t.watcher, t.done
	t.watcher, t.done = nil, nil
	t.mu.Unlock()

	if watcher == nil {
		return nil
	}
	close(done)
	err := watcher.Close()
	t.wg.Wait()
	return err
}

func isSpoolFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, ".json") && !strings.HasPrefix(base, ".")
}

func readSpoolFile(path string) (domain.Message, error) {
	var msg domain.Message
	b, err := os.ReadFile(path)
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(b, &msg); err != nil {
		return msg, err
	}
	return msg, nil
}

func sanitizeSender(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '_'
	}, s)
	if s == "" {
		return "anon"
	}
	return s
}

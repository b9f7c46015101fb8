// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package federator

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/eida/federator/metrics"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
)

// Arena manages the scoped-temp-directory disk area a job spools its
// upstream response bodies into before merging (spec.md §4.8). Every
// job gets its own subdirectory, named with a UUID rather than a
// sequence number so a restarted federatord can never collide with an
// arena directory left behind by a previous process, and startup
// sweeps every leftover job directory unconditionally.
type Arena struct {
	// Root is the base directory under which per-job subdirectories
	// are created. Open creates it if it does not exist; it must be
	// writable.
	Root string

	// MaxAge bounds how long a job directory is allowed to survive;
	// the background purge goroutine removes anything older. Defaults
	// to 1 hour.
	MaxAge time.Duration

	// SoftQuotaBytes is the total spool size above which NewJobDir
	// starts refusing new jobs until space frees up, the backpressure
	// mechanism spec.md §4.8 calls for. Zero disables the check.
	SoftQuotaBytes int64

	// PurgeInterval controls how often the background sweep runs.
	// Defaults to 5 minutes.
	PurgeInterval time.Duration

	// Clock is the time source, overridable in tests.
	Clock clock.Clock

	Logger *logrus.Logger

	mu    sync.Mutex
	usage int64
	stop  chan struct{}
	once  sync.Once
}

func (a *Arena) setDefaults() {
	if a.MaxAge == 0 {
		a.MaxAge = time.Hour
	}
	if a.PurgeInterval == 0 {
		a.PurgeInterval = 5 * time.Minute
	}
	if a.Clock == nil {
		a.Clock = clock.New()
	}
	if a.Logger == nil {
		a.Logger = logrus.StandardLogger()
	}
}

// Open sweeps any job directories left behind by a previous process
// and starts the background purge loop. Callers must call Close when
// the arena is no longer needed.
func (a *Arena) Open() error {
	a.setDefaults()
	if err := os.MkdirAll(a.Root, 0o755); err != nil {
		return fmt.Errorf("federator: creating arena root %s: %w", a.Root, err)
	}
	if entries, err := ioutil.ReadDir(a.Root); err == nil {
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			if err := os.RemoveAll(filepath.Join(a.Root, entry.Name())); err != nil {
				a.Logger.WithError(err).Warn("federator: startup arena sweep could not remove a job directory")
			}
		}
	}
	if err := a.sweep(); err != nil {
		a.Logger.WithError(err).Warn("federator: startup arena sweep encountered errors")
	}
	a.stop = make(chan struct{})
	go a.purgeLoop()
	return nil
}

// Close stops the background purge goroutine. It does not remove the
// arena root itself.
func (a *Arena) Close() {
	a.once.Do(func() {
		if a.stop != nil {
			close(a.stop)
		}
	})
}

func (a *Arena) purgeLoop() {
	ticker := a.Clock.Ticker(a.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			if err := a.sweep(); err != nil {
				a.Logger.WithError(err).Warn("federator: periodic arena sweep encountered errors")
			}
		}
	}
}

// Sweep removes every job directory older than MaxAge and recomputes
// tracked usage from disk immediately, rather than waiting for the
// next periodic purge. Operators and tests can call it directly; the
// background loop calls it on every PurgeInterval tick.
func (a *Arena) Sweep() error {
	return a.sweep()
}

// sweep removes every job directory older than MaxAge and recomputes
// the tracked usage total from what remains on disk, so usage never
// drifts from reality even after an unclean shutdown.
func (a *Arena) sweep() error {
	entries, err := ioutil.ReadDir(a.Root)
	if err != nil {
		return err
	}
	cutoff := a.Clock.Now().Add(-a.MaxAge)
	var total int64
	var firstErr error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(a.Root, entry.Name())
		if entry.ModTime().Before(cutoff) {
			if err := os.RemoveAll(path); err != nil && firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += dirSize(path)
	}
	a.mu.Lock()
	a.usage = total
	a.mu.Unlock()
	metrics.ArenaSpoolBytes.Set(float64(total))
	return firstErr
}

func dirSize(root string) int64 {
	var size int64
	filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}

// JobDir is one job's spool directory.
type JobDir struct {
	Token string
	Path  string
}

// NewJobDir allocates a fresh, empty spool directory for one job. It
// returns an error if the arena's soft quota is currently exceeded,
// so the caller can reject the request rather than spool onto a full
// disk.
func (a *Arena) NewJobDir() (*JobDir, error) {
	a.mu.Lock()
	usage := a.usage
	a.mu.Unlock()
	if a.SoftQuotaBytes > 0 && usage >= a.SoftQuotaBytes {
		return nil, fmt.Errorf("federator: arena soft quota exceeded (%d >= %d bytes)", usage, a.SoftQuotaBytes)
	}

	token := uuid.NewV4().String()
	path := filepath.Join(a.Root, token)
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, fmt.Errorf("federator: allocating job dir: %w", err)
	}
	return &JobDir{Token: token, Path: path}, nil
}

// SpoolPath returns the path a sub-request numbered index should
// spool its response body to within this job directory.
func (jd *JobDir) SpoolPath(index int) string {
	return filepath.Join(jd.Path, fmt.Sprintf("subrequest-%04d", index))
}

// Release records the final on-disk size of a completed job directory
// against the arena's usage total and removes the directory. Callers
// invoke it once the job's merged response has been streamed to the
// client.
func (a *Arena) Release(jd *JobDir) error {
	size := dirSize(jd.Path)
	err := os.RemoveAll(jd.Path)
	a.mu.Lock()
	a.usage -= size
	if a.usage < 0 {
		a.usage = 0
	}
	usage := a.usage
	a.mu.Unlock()
	metrics.ArenaSpoolBytes.Set(float64(usage))
	return err
}

// Usage returns the arena's current tracked spool usage in bytes.
func (a *Arena) Usage() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage
}

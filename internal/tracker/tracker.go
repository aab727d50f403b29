// tracker.go
//
// This source file is part of the FoundationDB open source project
//
// Copyright 2025 Apple Inc. and the FoundationDB project authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package tracker

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/apple/foundationdb/fdbtracedebugger/internal/reader"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/conversion"
)

const markerPattern = "*" + reader.MarkerSuffix

// serviceEqualities compares service sets. Modification times are compared by
// instant since time.Time has unexported fields.
var serviceEqualities = conversion.EqualitiesOrDie(
	func(a, b time.Time) bool {
		return a.Equal(b)
	},
)

// Service is a monitored service process as announced by its newest marker file.
type Service struct {
	// Title is the name of the service and identifies it across restarts.
	Title string
	// Generation identifies the current run of the service.
	Generation int64
	// LastModified is the modification time of the marker file.
	LastModified time.Time
}

// Tracker keeps the set of services announced in a directory. The set is
// replaced as a whole on every poll, readers never observe a partial update.
type Tracker struct {
	dir      string
	logger   logr.Logger
	services atomic.Pointer[map[string]Service]
}

// New creates a Tracker for the marker files in dir.
func New(logger logr.Logger, dir string) *Tracker {
	tracker := &Tracker{
		dir:    dir,
		logger: logger.WithName("tracker"),
	}
	empty := map[string]Service{}
	tracker.services.Store(&empty)
	return tracker
}

// Snapshot returns the current services by title. The map must not be modified.
func (tracker *Tracker) Snapshot() map[string]Service {
	return *tracker.services.Load()
}

// Services returns the current services sorted by title.
func (tracker *Tracker) Services() []Service {
	snapshot := tracker.Snapshot()
	services := make([]Service, 0, len(snapshot))
	for _, service := range snapshot {
		services = append(services, service)
	}
	sort.Slice(services, func(i, j int) bool {
		return services[i].Title < services[j].Title
	})
	return services
}

// Len returns the number of tracked services.
func (tracker *Tracker) Len() int {
	return len(tracker.Snapshot())
}

// Generation returns the current generation of the service with the given title.
func (tracker *Tracker) Generation(title string) (int64, bool) {
	service, ok := tracker.Snapshot()[title]
	return service.Generation, ok
}

// HasGeneration reports whether any tracked service currently runs generation.
func (tracker *Tracker) HasGeneration(generation int64) bool {
	for _, service := range tracker.Snapshot() {
		if service.Generation == generation {
			return true
		}
	}
	return false
}

// Poll reads all marker files and swaps in the new set of services. Marker
// files which cannot be parsed are skipped. When a title is announced by more
// than one marker file the most recently modified one wins. Poll returns the
// services which are new, either by title or by generation.
func (tracker *Tracker) Poll() ([]Service, error) {
	fsys := os.DirFS(tracker.dir)
	matches, err := doublestar.Glob(fsys, markerPattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}

	latest := make(map[string]Service, len(matches))
	for _, match := range matches {
		service, err := parseMarker(fsys, match)
		if err != nil {
			tracker.logger.V(1).Info("Skipping marker file", "path", match, "error", err.Error())
			continue
		}

		current, ok := latest[service.Title]
		if !ok || service.LastModified.After(current.LastModified) {
			latest[service.Title] = service
		}
	}

	previous := tracker.Snapshot()
	var added []Service
	for title, service := range latest {
		old, ok := previous[title]
		if !ok || old.Generation != service.Generation {
			added = append(added, service)
		}
	}
	sort.Slice(added, func(i, j int) bool {
		return added[i].Title < added[j].Title
	})

	tracker.services.Store(&latest)

	// If the services haven't changed ignore the poll to prevent noisy logging.
	if !serviceEqualities.DeepEqual(previous, latest) {
		tracker.logger.Info("Tracked services changed", "services", len(latest), "added", len(added))
	}

	return added, nil
}

func parseMarker(fsys fs.FS, name string) (Service, error) {
	info, err := fs.Stat(fsys, name)
	if err != nil {
		return Service{}, err
	}

	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return Service{}, err
	}

	lines := strings.Split(string(content), "\n")
	if len(lines) < 2 {
		return Service{}, errors.New("marker file has no generation line")
	}

	// An unparseable generation is read as generation 0.
	generation, err := strconv.ParseInt(strings.TrimSpace(lines[1]), 10, 64)
	if err != nil {
		generation = 0
	}

	return Service{
		Title:        strings.TrimSuffix(lines[0], "\r"),
		Generation:   generation,
		LastModified: info.ModTime(),
	}, nil
}

// Run polls on every tick of interval and additionally whenever a marker file
// is created or written. onNew is called with the result of every poll which
// discovered new services. Run returns when ctx is cancelled.
func (tracker *Tracker) Run(ctx context.Context, interval time.Duration, onNew func([]Service)) error {
	poll := func() {
		added, err := tracker.Poll()
		if err != nil {
			tracker.logger.Error(err, "Error polling marker files", "dir", tracker.dir)
			return
		}
		if len(added) > 0 {
			onNew(added)
		}
	}

	var events <-chan fsnotify.Event
	var watchErrors <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		tracker.logger.Error(err, "could not create watcher, falling back to polling")
	} else {
		defer func(watcher *fsnotify.Watcher) {
			err := watcher.Close()
			if err != nil {
				tracker.logger.Error(err, "could not close watcher")
			}
		}(watcher)

		tracker.logger.Info("adding watch for directory", "path", tracker.dir)
		err = watcher.Add(tracker.dir)
		if err != nil {
			tracker.logger.Error(err, "could not watch directory, falling back to polling", "path", tracker.dir)
		} else {
			events = watcher.Events
			watchErrors = watcher.Errors
		}
	}

	poll()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			poll()
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			matched, _ := doublestar.Match(markerPattern, path.Base(event.Name))
			if matched {
				tracker.logger.V(1).Info("Detected event on marker file", "event", event.String())
				poll()
			}
		case err, ok := <-watchErrors:
			if !ok {
				watchErrors = nil
				continue
			}
			tracker.logger.Error(err, "Error watching for file system events")
		}
	}
}

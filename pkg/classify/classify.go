// Package classify maps free text to catalog categories and tasks. The
// mapping lives in a store-of-record and is held in memory as an immutable
// snapshot that Reload replaces atomically.
package classify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/OFFIS-RIT/toolgraph/backend/internal/util"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/metrics"
)

var (
	// ErrNotLoaded is returned by Resolve before the first successful Reload.
	ErrNotLoaded = errors.New("classification index not loaded")
	// ErrEmptyMapping rejects a source that returned no usable keywords.
	ErrEmptyMapping = errors.New("classification mapping is empty")
)

// Entry maps one keyword to a category, a task, or both.
type Entry struct {
	Keyword  string `json:"keyword"`
	Language string `json:"language"`
	Category string `json:"category,omitempty"`
	TaskID   string `json:"task_id,omitempty"`
}

// Source loads the full mapping from its store-of-record.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]Entry, error)
}

// Resolution is the outcome of resolving one text against one snapshot.
type Resolution struct {
	Category string   `json:"category,omitempty"`
	TaskID   string   `json:"task_id,omitempty"`
	Matched  []string `json:"matched,omitempty"`
	Version  int64    `json:"version"`
}

type entry struct {
	Entry
	key    string
	weight int
}

// Snapshot is an immutable keyword table.
type Snapshot struct {
	version  int64
	loadedAt time.Time
	size     int
	maxWords int
	byPhrase map[string]entry
	// han keywords are matched by substring since the text has no word breaks
	han []entry
}

func newSnapshot(version int64, entries []Entry) (*Snapshot, error) {
	s := &Snapshot{
		version:  version,
		loadedAt: time.Now(),
		byPhrase: map[string]entry{},
	}
	for _, e := range entries {
		key := util.NormalizeText(e.Keyword)
		if key == "" || (e.Category == "" && e.TaskID == "") {
			continue
		}
		en := entry{Entry: e, key: key, weight: utf8.RuneCountInString(key)}
		if util.ContainsHan(key) {
			s.han = append(s.han, en)
		} else {
			if prev, ok := s.byPhrase[key]; ok {
				en = mergeEntry(prev, en)
			}
			s.byPhrase[key] = en
			s.maxWords = max(s.maxWords, len(strings.Fields(key)))
		}
	}
	s.size = len(s.byPhrase) + len(s.han)
	if s.size == 0 {
		return nil, ErrEmptyMapping
	}
	sort.SliceStable(s.han, func(i, j int) bool { return s.han[i].weight > s.han[j].weight })
	return s, nil
}

// mergeEntry fills gaps of a duplicate keyword without overriding.
func mergeEntry(a, b entry) entry {
	if a.Category == "" {
		a.Category = b.Category
	}
	if a.TaskID == "" {
		a.TaskID = b.TaskID
	}
	return a
}

func (s *Snapshot) Version() int64      { return s.version }
func (s *Snapshot) Len() int            { return s.size }
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Resolve scans text for known keywords, preferring the longest phrase at
// each position. The most specific keyword that names a category decides the
// category; the same rule applies to the task.
func (s *Snapshot) Resolve(text string) Resolution {
	res := Resolution{Version: s.version}
	norm := util.NormalizeText(text)
	if norm == "" {
		return res
	}

	var hits []entry
	words := strings.Fields(norm)
	for i := 0; i < len(words); {
		n := min(s.maxWords, len(words)-i)
		for ; n > 0; n-- {
			if e, ok := s.byPhrase[strings.Join(words[i:i+n], " ")]; ok {
				hits = append(hits, e)
				break
			}
		}
		if n == 0 {
			i++
		} else {
			i += n
		}
	}
	if util.ContainsHan(norm) {
		for _, e := range s.han {
			if strings.Contains(norm, e.key) {
				hits = append(hits, e)
			}
		}
	}

	var catWeight, taskWeight int
	for _, h := range hits {
		res.Matched = append(res.Matched, h.key)
		if h.Category != "" && h.weight > catWeight {
			res.Category, catWeight = h.Category, h.weight
		}
		if h.TaskID != "" && h.weight > taskWeight {
			res.TaskID, taskWeight = h.TaskID, h.weight
		}
	}
	return res
}

// Index serves Resolve from the current snapshot.
type Index struct {
	source   Source
	reloadMu sync.Mutex
	versions atomic.Int64
	current  atomic.Pointer[Snapshot]
}

func New(source Source) *Index {
	return &Index{source: source}
}

// Reload fetches the mapping and swaps it in. On failure the previous
// snapshot stays active.
func (i *Index) Reload(ctx context.Context) (*Snapshot, error) {
	i.reloadMu.Lock()
	defer i.reloadMu.Unlock()

	entries, err := i.source.Load(ctx)
	if err != nil {
		metrics.ClassificationReloads.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("load classification from %s: %w", i.source.Name(), err)
	}
	snap, err := newSnapshot(i.versions.Load()+1, entries)
	if err != nil {
		metrics.ClassificationReloads.WithLabelValues("empty").Inc()
		return nil, fmt.Errorf("load classification from %s: %w", i.source.Name(), err)
	}
	i.versions.Store(snap.version)
	i.current.Store(snap)

	metrics.ClassificationReloads.WithLabelValues("ok").Inc()
	metrics.ClassificationEntries.Set(float64(snap.size))
	logger.Info("[Classify] Loaded classification mapping", "source", i.source.Name(), "entries", snap.size, "version", snap.version)
	return snap, nil
}

// Snapshot returns the active snapshot or nil before the first load.
func (i *Index) Snapshot() *Snapshot {
	return i.current.Load()
}

func (i *Index) Resolve(text string) (Resolution, error) {
	snap := i.current.Load()
	if snap == nil {
		return Resolution{}, ErrNotLoaded
	}
	return snap.Resolve(text), nil
}

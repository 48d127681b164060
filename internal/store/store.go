// Package store implements the authoritative clipboard history: a bounded,
// deduplicated, pin-aware ordered collection. All mutation goes through one
// mutex so capture and UI commands never interleave partial updates, and
// change events are emitted in commit order.
package store

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clipvault/clipvault/internal/content"
)

// Defaults for the policy knobs. Both are configurable; the dedup window is
// deliberately small so insertion never scans the whole history.
const (
	DefaultMaxItems    = 50
	DefaultDedupWindow = 10
	DefaultMarkerTTL   = 5 * time.Second
)

// ErrNotFound reports an id that is not (or no longer) in the history.
// Always recoverable: the caller should refetch the list.
var ErrNotFound = errors.New("item not found")

// ErrDuplicate is the internal suppression signal: the inserted content
// matches an unpinned item inside the dedup window. Never user-visible.
var ErrDuplicate = errors.New("duplicate content")

// Item is one clipboard history entry.
type Item struct {
	ID        string          `json:"id"`
	Content   content.Content `json:"content"`
	CreatedAt time.Time       `json:"timestamp"`
	Pinned    bool            `json:"pinned"`
	PinnedAt  time.Time       `json:"pinned_at,omitzero"`
	Preview   string          `json:"preview"`
	Thumbnail string          `json:"thumbnail,omitempty"`

	fingerprint string
}

// Fingerprint returns the content fingerprint, computing and caching it on
// first use (items loaded from persistence arrive without one).
func (it *Item) Fingerprint() string {
	if it.fingerprint == "" {
		it.fingerprint = it.Content.Fingerprint()
	}
	return it.fingerprint
}

// EventKind discriminates store change events.
type EventKind string

const (
	// EventChanged carries the newly inserted item.
	EventChanged EventKind = "clipboard-changed"
	// EventCleared signals that all unpinned items were removed.
	EventCleared EventKind = "history-cleared"
	// EventSync carries the full authoritative list, used by subscribers
	// to recover from suspected desync.
	EventSync EventKind = "history-sync"
)

// Event is a store change notification.
type Event struct {
	Kind  EventKind
	Item  *Item  // EventChanged
	Items []Item // EventSync
}

// Options configures a Store.
type Options struct {
	MaxItems    int           // unpinned capacity; <=0 means DefaultMaxItems
	DedupWindow int           // recent unpinned items checked for dupes; <=0 means DefaultDedupWindow
	MarkerTTL   time.Duration // self-origination marker lifetime; <=0 means DefaultMarkerTTL
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Store is the single source of truth for clipboard history.
type Store struct {
	mu    sync.RWMutex
	items []Item // pinned first (by pin time), then unpinned newest-first

	maxItems    int
	dedupWindow int
	markerTTL   time.Duration
	now         func() time.Time

	// Self-origination marker: the fingerprint of the last content the
	// paste engine wrote to the OS clipboard, valid until markerExpiry.
	// Shares the store mutex per the single-serialization-point contract.
	markerFP     string
	markerExpiry time.Time

	subMu sync.Mutex
	subs  map[chan Event]struct{}
	// emitMu serializes event delivery so subscribers observe events in
	// mutation commit order.
	emitMu sync.Mutex
}

// New returns an empty Store with the given options.
func New(opts Options) *Store {
	if opts.MaxItems <= 0 {
		opts.MaxItems = DefaultMaxItems
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	if opts.MarkerTTL <= 0 {
		opts.MarkerTTL = DefaultMarkerTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		maxItems:    opts.MaxItems,
		dedupWindow: opts.DedupWindow,
		markerTTL:   opts.MarkerTTL,
		now:         opts.Now,
		subs:        make(map[chan Event]struct{}),
	}
}

// Load replaces the store contents with items restored from persistence.
// Ordering is re-derived from pin state and timestamps so a hand-edited or
// older snapshot still satisfies the ordering invariant. No events are
// emitted; Load runs before any subscriber exists.
func (s *Store) Load(items []Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = s.items[:0]
	// Insert pinned items first, then unpinned newest-first.
	for _, it := range items {
		if it.Pinned {
			s.items = append(s.items, it)
		}
	}
	sortPinned(s.items)
	for _, it := range items {
		if !it.Pinned {
			s.items = append(s.items, it)
		}
	}
	sortUnpinned(s.items[s.pinnedCountLocked():])
	s.enforceCapacityLocked()
}

// Subscribe registers a change-event channel. The channel is buffered; a
// subscriber that falls behind loses events and should issue a sync request.
func (s *Store) Subscribe() chan Event {
	ch := make(chan Event, 16)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()
	return ch
}

// Unsubscribe removes a previously subscribed channel.
func (s *Store) Unsubscribe(ch chan Event) {
	s.subMu.Lock()
	delete(s.subs, ch)
	s.subMu.Unlock()
}

func (s *Store) emit(ev Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.subMu.Lock()
	for ch := range s.subs {
		select {
		case ch <- ev:
		default: // slow subscriber: drop, it recovers via EventSync
		}
	}
	s.subMu.Unlock()
}

// Insert adds normalized content at the head of the unpinned sequence.
//
// Returns ErrDuplicate (no new item, no event) when the fingerprint matches
// the self-origination marker or an unpinned item within the dedup window.
// When the capacity is exceeded the oldest unpinned item is evicted.
func (s *Store) Insert(c content.Content) (Item, error) {
	fp := c.Fingerprint()

	s.mu.Lock()
	if s.consumeMarkerLocked(fp) {
		s.mu.Unlock()
		return Item{}, ErrDuplicate
	}
	if s.isRecentDuplicateLocked(fp) {
		s.mu.Unlock()
		return Item{}, ErrDuplicate
	}

	it := Item{
		ID:          uuid.NewString(),
		Content:     c,
		CreatedAt:   s.now(),
		Preview:     c.Preview(),
		Thumbnail:   c.Thumbnail(),
		fingerprint: fp,
	}

	// A fresh capture of content already deeper in history supersedes the
	// old entry rather than duplicating it.
	s.removeUnpinnedByFingerprintLocked(fp)

	head := s.pinnedCountLocked()
	s.items = append(s.items, Item{})
	copy(s.items[head+1:], s.items[head:])
	s.items[head] = it

	s.enforceCapacityLocked()
	s.mu.Unlock()

	s.emit(Event{Kind: EventChanged, Item: &it})
	return it, nil
}

// Get returns the item with the given id.
func (s *Store) Get(id string) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.items {
		if s.items[i].ID == id {
			return s.items[i], nil
		}
	}
	return Item{}, ErrNotFound
}

// List returns a snapshot of all items: pinned first (pin-time order), then
// unpinned newest-first. Deterministic for a given store state.
func (s *Store) List() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

// TogglePin flips the pin state of the item with the given id and re-sorts.
// Pinning records the pin time; unpinning re-ranks the item by capture time.
func (s *Store) TogglePin(id string) (Item, error) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return Item{}, ErrNotFound
	}
	it := s.items[idx]
	it.Pinned = !it.Pinned
	if it.Pinned {
		it.PinnedAt = s.now()
	} else {
		it.PinnedAt = time.Time{}
	}

	s.items = append(s.items[:idx], s.items[idx+1:]...)
	s.insertSortedLocked(it)
	s.enforceCapacityLocked()
	s.mu.Unlock()

	return it, nil
}

// Delete removes the item with the given id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	s.mu.Unlock()
	return nil
}

// Clear removes all unpinned items and returns how many were removed.
// Pinned items survive. Idempotent.
func (s *Store) Clear() int {
	s.mu.Lock()
	kept := s.items[:0]
	removed := 0
	for _, it := range s.items {
		if it.Pinned {
			kept = append(kept, it)
		} else {
			removed++
		}
	}
	s.items = kept
	s.mu.Unlock()

	s.emit(Event{Kind: EventCleared})
	return removed
}

// EmitSync broadcasts the full authoritative list to all subscribers.
func (s *Store) EmitSync() {
	s.emit(Event{Kind: EventSync, Items: s.List()})
}

// MarkSelfWrite records that the paste engine is about to write content with
// the given fingerprint to the OS clipboard. The next capture matching it
// within the marker TTL is suppressed instead of re-inserted.
func (s *Store) MarkSelfWrite(fp string) {
	s.mu.Lock()
	s.markerFP = fp
	s.markerExpiry = s.now().Add(s.markerTTL)
	s.mu.Unlock()
}

// ── internal helpers (all require s.mu held) ───────────────────────────────

func (s *Store) consumeMarkerLocked(fp string) bool {
	if s.markerFP == "" || s.markerFP != fp {
		return false
	}
	expired := s.now().After(s.markerExpiry)
	// One-shot either way: a later identical copy is a genuine user action.
	s.markerFP = ""
	return !expired
}

func (s *Store) isRecentDuplicateLocked(fp string) bool {
	checked := 0
	for i := s.pinnedCountLocked(); i < len(s.items) && checked < s.dedupWindow; i++ {
		if s.items[i].Fingerprint() == fp {
			return true
		}
		checked++
	}
	return false
}

func (s *Store) removeUnpinnedByFingerprintLocked(fp string) {
	for i := s.pinnedCountLocked(); i < len(s.items); i++ {
		if s.items[i].Fingerprint() == fp {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}

func (s *Store) pinnedCountLocked() int {
	n := 0
	for n < len(s.items) && s.items[n].Pinned {
		n++
	}
	return n
}

func (s *Store) indexLocked(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

// insertSortedLocked places it at its ordering position: end of the pinned
// prefix when pinned, otherwise by capture time among unpinned items.
func (s *Store) insertSortedLocked(it Item) {
	pos := s.pinnedCountLocked()
	if !it.Pinned {
		for pos < len(s.items) && s.items[pos].CreatedAt.After(it.CreatedAt) {
			pos++
		}
	}
	s.items = append(s.items, Item{})
	copy(s.items[pos+1:], s.items[pos:])
	s.items[pos] = it
}

// enforceCapacityLocked evicts the oldest unpinned items until at most
// maxItems unpinned remain. Pinned items are never evicted.
func (s *Store) enforceCapacityLocked() {
	unpinned := len(s.items) - s.pinnedCountLocked()
	for unpinned > s.maxItems {
		s.items = s.items[:len(s.items)-1]
		unpinned--
	}
}

func sortPinned(items []Item) {
	// Pin-time order, oldest pin first. Insertion sort: the slice is tiny.
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].PinnedAt.Before(items[j-1].PinnedAt); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

func sortUnpinned(items []Item) {
	// Newest-first by capture time.
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].CreatedAt.After(items[j-1].CreatedAt); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

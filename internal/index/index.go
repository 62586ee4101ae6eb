// Package index holds the in-memory categorization state.
//
// Every observed filename is either hidden (awaiting classification) or
// bound to exactly one category. The index never touches the backing
// store; it is a presentational overlay kept by the driver.
package index

import (
	"sort"
	"sync"
	"time"
)

// FileRecord tracks per-file bookkeeping for an observed name.
type FileRecord struct {
	Name       string
	Size       int64
	CreatedAt  time.Time
	Processing bool
}

// Index is the hidden-set plus the two category mappings, guarded by one
// mutex. The lock is held only across map mutations and small scans,
// never across I/O.
type Index struct {
	mu         sync.Mutex
	hidden     map[string]struct{}
	byCategory map[string][]string
	byName     map[string]string
	records    map[string]*FileRecord
}

// New creates an empty index.
func New() *Index {
	return &Index{
		hidden:     make(map[string]struct{}),
		byCategory: make(map[string][]string),
		byName:     make(map[string]string),
		records:    make(map[string]*FileRecord),
	}
}

// Observe marks a name as hidden pending classification. If the name is
// currently categorized the binding is dropped first, so a recreated file
// goes through classification again. Returns true if the name became
// hidden by this call.
func (ix *Index) Observe(name string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.hidden[name]; ok {
		return false
	}
	ix.dropBindingLocked(name)
	ix.hidden[name] = struct{}{}
	ix.records[name] = &FileRecord{
		Name:       name,
		CreatedAt:  time.Now(),
		Processing: true,
	}
	return true
}

// SetSize updates the recorded byte size of an observed name.
func (ix *Index) SetSize(name string, size int64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if rec, ok := ix.records[name]; ok {
		rec.Size = size
	}
}

// Categorize moves a hidden name into a category. Names that are no
// longer hidden (unlinked or recategorized meanwhile) are ignored.
// Returns true if the binding was applied.
func (ix *Index) Categorize(name, category string) bool {
	if category == "" {
		return false
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.hidden[name]; !ok {
		return false
	}
	delete(ix.hidden, name)
	ix.dropBindingLocked(name)
	ix.byCategory[category] = append(ix.byCategory[category], name)
	ix.byName[name] = category
	if rec, ok := ix.records[name]; ok {
		rec.Processing = false
	}
	return true
}

// Reject marks a hidden name as no longer processing. The name stays
// hidden; a later release re-enqueues it.
func (ix *Index) Reject(name string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if rec, ok := ix.records[name]; ok {
		rec.Processing = false
	}
}

// Forget removes all state for a name (unlink support). Returns the
// category the name was bound to, if any, and whether the name was known.
func (ix *Index) Forget(name string) (string, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	_, wasHidden := ix.hidden[name]
	category, wasBound := ix.byName[name]
	delete(ix.hidden, name)
	ix.dropBindingLocked(name)
	delete(ix.records, name)
	return category, wasHidden || wasBound
}

// IsHidden reports whether a name is suppressed pending classification.
func (ix *Index) IsHidden(name string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, ok := ix.hidden[name]
	return ok
}

// CategoryOf returns the category a name is bound to.
func (ix *Index) CategoryOf(name string) (string, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	c, ok := ix.byName[name]
	return c, ok
}

// Suppressed reports whether a name must be excluded from the root
// listing (hidden or categorized).
func (ix *Index) Suppressed(name string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.hidden[name]; ok {
		return true
	}
	_, ok := ix.byName[name]
	return ok
}

// HasCategory reports whether a category currently has files.
func (ix *Index) HasCategory(category string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.byCategory[category]) > 0
}

// Categories returns the sorted names of all non-empty categories.
func (ix *Index) Categories() []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	out := make([]string, 0, len(ix.byCategory))
	for c, files := range ix.byCategory {
		if len(files) > 0 {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// FilesIn returns a copy of the filename sequence bound to a category.
func (ix *Index) FilesIn(category string) []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	files := ix.byCategory[category]
	out := make([]string, len(files))
	copy(out, files)
	return out
}

// Snapshot is a consistent point-in-time view of the overlay, taken
// under one lock acquisition so a directory listing cannot observe a
// name mid-transition.
type Snapshot struct {
	categories []string
	byCategory map[string][]string
	suppressed map[string]struct{}
}

// Snapshot copies the listing-relevant state in one critical section.
func (ix *Index) Snapshot() *Snapshot {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	s := &Snapshot{
		byCategory: make(map[string][]string, len(ix.byCategory)),
		suppressed: make(map[string]struct{}, len(ix.hidden)+len(ix.byName)),
	}
	for c, files := range ix.byCategory {
		if len(files) == 0 {
			continue
		}
		s.categories = append(s.categories, c)
		s.byCategory[c] = append([]string(nil), files...)
	}
	sort.Strings(s.categories)
	for name := range ix.hidden {
		s.suppressed[name] = struct{}{}
	}
	for name := range ix.byName {
		s.suppressed[name] = struct{}{}
	}
	return s
}

// Categories returns the sorted non-empty category names in the snapshot.
func (s *Snapshot) Categories() []string {
	return s.categories
}

// FilesIn returns the filename sequence bound to a category in the
// snapshot.
func (s *Snapshot) FilesIn(category string) []string {
	return s.byCategory[category]
}

// HasCategory reports whether the snapshot holds files for a category.
func (s *Snapshot) HasCategory(category string) bool {
	return len(s.byCategory[category]) > 0
}

// Suppressed reports whether a name was hidden or categorized at
// snapshot time.
func (s *Snapshot) Suppressed(name string) bool {
	_, ok := s.suppressed[name]
	return ok
}

// Record returns a copy of the bookkeeping record for a name.
func (ix *Index) Record(name string) (FileRecord, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	rec, ok := ix.records[name]
	if !ok {
		return FileRecord{}, false
	}
	return *rec, true
}

// HiddenCount returns the size of the hidden set.
func (ix *Index) HiddenCount() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.hidden)
}

// CategoryCount returns the number of files bound to a category.
func (ix *Index) CategoryCount(category string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.byCategory[category])
}

// dropBindingLocked removes a name's category binding and sequence entry.
// Must be called with ix.mu held.
func (ix *Index) dropBindingLocked(name string) {
	category, ok := ix.byName[name]
	if !ok {
		return
	}
	delete(ix.byName, name)

	files := ix.byCategory[category]
	for i, f := range files {
		if f == name {
			ix.byCategory[category] = append(files[:i], files[i+1:]...)
			break
		}
	}
	if len(ix.byCategory[category]) == 0 {
		delete(ix.byCategory, category)
	}
}

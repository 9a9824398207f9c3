package kb

import (
	"sort"

	rkerrors "github.com/Aman-CERP/ragkb/internal/errors"
)

// Registry tracks loaded knowledge bases in two tiers: system entries
// discovered by the directory scan, and user entries added explicitly.
// Callers see the merged view, where a user entry shadows a system entry
// of the same name.
//
// The registry has no lock of its own. The engine serializes all access
// under its mutex; nothing here may block or call out.
type Registry struct {
	system map[string]*KnowledgeBase
	user   map[string]*KnowledgeBase

	// activeName points into the merged view, or is empty. Invariant:
	// a non-empty activeName always resolves via Get.
	activeName string
}

// Entry is one row of the merged listing.
type Entry struct {
	Name       string
	Path       string
	Origin     Origin
	Active     bool
	ChunkCount int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		system: make(map[string]*KnowledgeBase),
		user:   make(map[string]*KnowledgeBase),
	}
}

// AddUser registers a user knowledge base. A user entry may shadow a
// system entry, but colliding with another user entry fails.
func (r *Registry) AddUser(k *KnowledgeBase) error {
	if _, exists := r.user[k.Name]; exists {
		return rkerrors.AlreadyExists(k.Name)
	}
	r.user[k.Name] = k
	return nil
}

// AddSystem registers a system knowledge base, replacing any previous
// system entry of the same name.
func (r *Registry) AddSystem(k *KnowledgeBase) {
	r.system[k.Name] = k
}

// Remove deletes the entry the merged view resolves for name and returns
// it. If the removed entry was active, the active pointer is cleared.
func (r *Registry) Remove(name string) (*KnowledgeBase, error) {
	var removed *KnowledgeBase
	if k, ok := r.user[name]; ok {
		delete(r.user, name)
		removed = k
	} else if k, ok := r.system[name]; ok {
		delete(r.system, name)
		removed = k
	} else {
		return nil, rkerrors.NotFound(name)
	}

	if r.activeName == name {
		r.activeName = ""
	}
	return removed, nil
}

// RemoveSystem deletes only the system entry for name, leaving any user
// entry of the same name alone. If the removed entry was what the active
// pointer resolved to, the pointer is cleared.
func (r *Registry) RemoveSystem(name string) (*KnowledgeBase, bool) {
	k, ok := r.system[name]
	if !ok {
		return nil, false
	}
	delete(r.system, name)

	if r.activeName == name {
		if _, still := r.Get(name); !still {
			r.activeName = ""
		}
	}
	return k, true
}

// Get resolves name through the merged view.
func (r *Registry) Get(name string) (*KnowledgeBase, bool) {
	if k, ok := r.user[name]; ok {
		return k, true
	}
	k, ok := r.system[name]
	return k, ok
}

// HasUser reports whether a user entry with this name exists.
func (r *Registry) HasUser(name string) bool {
	_, ok := r.user[name]
	return ok
}

// SetActive marks name as the active knowledge base.
func (r *Registry) SetActive(name string) error {
	if _, ok := r.Get(name); !ok {
		return rkerrors.NotFound(name)
	}
	r.activeName = name
	return nil
}

// RestoreActive sets the active pointer without resolving it. Used when
// applying persisted state at startup, where the named knowledge base
// may not be loaded yet; lookups through Active simply miss until it is.
func (r *Registry) RestoreActive(name string) {
	r.activeName = name
}

// ClearActive clears the active pointer.
func (r *Registry) ClearActive() {
	r.activeName = ""
}

// ActiveName returns the active knowledge base name, or empty.
func (r *Registry) ActiveName() string {
	return r.activeName
}

// Active resolves the active knowledge base through the merged view.
func (r *Registry) Active() (*KnowledgeBase, bool) {
	if r.activeName == "" {
		return nil, false
	}
	return r.Get(r.activeName)
}

// Len returns the size of the merged view.
func (r *Registry) Len() int {
	n := len(r.user)
	for name := range r.system {
		if _, shadowed := r.user[name]; !shadowed {
			n++
		}
	}
	return n
}

// Names returns the merged view's names in listing order.
func (r *Registry) Names() []string {
	entries := r.List()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

// TotalChunks sums chunk counts across the merged view.
func (r *Registry) TotalChunks() int {
	var total int
	for _, e := range r.List() {
		total += e.ChunkCount
	}
	return total
}

// List returns the merged view: system names first in alphabetical
// order, then user-only names alphabetically. A user entry that shadows
// a system name takes the system entry's slot.
func (r *Registry) List() []Entry {
	systemNames := make([]string, 0, len(r.system))
	for name := range r.system {
		systemNames = append(systemNames, name)
	}
	sort.Strings(systemNames)

	userOnly := make([]string, 0, len(r.user))
	for name := range r.user {
		if _, shadows := r.system[name]; !shadows {
			userOnly = append(userOnly, name)
		}
	}
	sort.Strings(userOnly)

	entries := make([]Entry, 0, len(systemNames)+len(userOnly))
	for _, name := range systemNames {
		k, _ := r.Get(name) // user shadow wins here
		entries = append(entries, r.entry(k))
	}
	for _, name := range userOnly {
		entries = append(entries, r.entry(r.user[name]))
	}
	return entries
}

func (r *Registry) entry(k *KnowledgeBase) Entry {
	return Entry{
		Name:       k.Name,
		Path:       k.SourcePath,
		Origin:     k.Origin,
		Active:     k.Name == r.activeName,
		ChunkCount: k.ChunkCount(),
	}
}

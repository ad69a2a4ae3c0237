// Package collection keeps a client's view of a published collection in
// sync. A View remembers the documents already sent on a session and turns
// each update into the minimal added, changed or removed message.
package collection

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tsarna/go-structdiff"
)

// Sender is the part of *ddp.Session a View writes to.
type Sender interface {
	SendAdded(id, collection string, fields map[string]any)
	SendChanged(id, collection string, fields map[string]any, cleared []string)
	SendRemoved(id, collection string, fields map[string]any, cleared []string)
}

// View tracks the documents of one collection as seen by one client.
type View struct {
	name   string
	sender Sender

	mu   sync.Mutex
	docs map[string]map[string]any
}

// NewView creates an empty view of collection name that writes to sender.
func NewView(sender Sender, name string) *View {
	return &View{
		name:   name,
		sender: sender,
		docs:   make(map[string]map[string]any),
	}
}

// Name returns the collection name.
func (v *View) Name() string {
	return v.name
}

// Set publishes doc under id. A new id sends "added" with every field; a
// known id sends "changed" with the fields whose values differ and the names
// of fields no longer present. Nothing is sent when the document is unchanged.
func (v *View) Set(id string, doc map[string]any) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	previous, known := v.docs[id]
	if !known {
		stored := cloneDocument(doc)
		v.docs[id] = stored
		v.sender.SendAdded(id, v.name, cloneDocument(stored))
		return nil
	}

	var delta any
	delta, err := structdiff.Diff(previous, doc)
	if err != nil {
		return fmt.Errorf("collection %s: diff document %s: %w", v.name, id, err)
	}

	changes, _ := delta.(map[string]any)

	fields := make(map[string]any)
	for key := range changes {
		if value, ok := doc[key]; ok {
			fields[key] = cloneValue(value)
		}
	}

	var cleared []string
	for key := range previous {
		if _, ok := doc[key]; !ok {
			cleared = append(cleared, key)
		}
	}
	sort.Strings(cleared)

	if len(fields) == 0 && len(cleared) == 0 {
		return nil
	}

	v.docs[id] = cloneDocument(doc)

	if len(fields) == 0 {
		fields = nil
	}
	v.sender.SendChanged(id, v.name, fields, cleared)
	return nil
}

// Remove sends "removed" for id. It reports whether id was present.
func (v *View) Remove(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.docs[id]; !ok {
		return false
	}
	delete(v.docs, id)
	v.sender.SendRemoved(id, v.name, nil, nil)
	return true
}

// Clear removes every document, in id order.
func (v *View) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, id := range v.idsLocked() {
		v.sender.SendRemoved(id, v.name, nil, nil)
	}
	v.docs = make(map[string]map[string]any)
}

// Get returns a deep copy of the document last sent under id.
func (v *View) Get(id string) (map[string]any, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	doc, ok := v.docs[id]
	if !ok {
		return nil, false
	}
	return cloneDocument(doc), true
}

// IDs returns the ids of the documents in the view, sorted.
func (v *View) IDs() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.idsLocked()
}

func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.docs)
}

func (v *View) idsLocked() []string {
	ids := make([]string, 0, len(v.docs))
	for id := range v.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// cloneDocument deep-copies doc so later changes by the caller, including
// in-place edits of nested objects and arrays, are seen by the next diff.
func cloneDocument(doc map[string]any) map[string]any {
	clone := make(map[string]any, len(doc))
	for key, value := range doc {
		clone[key] = cloneValue(value)
	}
	return clone
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return cloneDocument(v)
	case []any:
		clone := make([]any, len(v))
		for i, item := range v {
			clone[i] = cloneValue(item)
		}
		return clone
	default:
		return value
	}
}

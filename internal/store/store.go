// Package store keeps flight plans, flights and their media records.
package store

import (
	"encoding/json"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/mohae/deepcopy"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("not found")

// Entity is anything the store can assign an id to
type Entity interface {
	EntityID() string
	SetEntityID(id string)
}

type Repository interface {
	// Save stores a copy of entity and returns its id. An entity without an
	// id gets a new one, which is set on entity only if the save succeeds.
	Save(collection string, entity Entity) (string, error)
	// GetByID copies the stored entity into out, which must be a pointer to
	// the type that was saved.
	GetByID(collection string, id string, out interface{}) error
	// IDs lists the ids in a collection in insertion order
	IDs(collection string) ([]string, error)
}

type record struct {
	seq   int
	value interface{}
}

// Memory is a Repository held in memory. With a snapshot path every save
// rewrites a JSON snapshot of all collections.
type Memory struct {
	mut  sync.RWMutex
	path string
	seq  int
	data map[string]map[string]*record
}

func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]map[string]*record),
	}
}

// Open returns a Memory backed by the snapshot at path. A missing file
// starts an empty store.
func Open(path string) (*Memory, error) {
	m := NewMemory()
	m.path = path

	b, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, errors.WithMessage(err, "Could not read store snapshot")
	}

	var snap snapshotFile
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, errors.WithMessagef(err, "Could not parse store snapshot %s", path)
	}

	for collection, entries := range snap.Collections {
		c := m.collection(collection)
		for _, e := range entries {
			m.seq++
			c[e.ID] = &record{m.seq, e.Value}
		}
	}
	log.Printf("Store loaded from %s", path)
	return m, nil
}

func (m *Memory) Save(collection string, entity Entity) (string, error) {
	if entity == nil || reflect.ValueOf(entity).IsNil() {
		return "", errors.New("cannot save nil entity")
	}

	id := entity.EntityID()
	assigned := id == ""
	if assigned {
		id = uuid.New().String()
		entity.SetEntityID(id)
	}

	value := reflect.ValueOf(entity).Elem().Interface()
	stored := deepcopy.Copy(value)
	if assigned {
		entity.SetEntityID("")
	}

	m.mut.Lock()
	defer m.mut.Unlock()

	c := m.collection(collection)
	prev, found := c[id]
	seq := m.seq + 1
	if found {
		seq = prev.seq
	}
	c[id] = &record{seq, stored}
	m.seq++

	if m.path != "" {
		if err := m.flush(); err != nil {
			if found {
				c[id] = prev
			} else {
				delete(c, id)
			}
			return "", err
		}
	}

	entity.SetEntityID(id)
	return id, nil
}

func (m *Memory) GetByID(collection string, id string, out interface{}) error {
	dst := reflect.ValueOf(out)
	if dst.Kind() != reflect.Ptr || dst.IsNil() {
		return errors.Errorf("GetByID needs a non-nil pointer, got %T", out)
	}

	m.mut.RLock()
	r, found := m.data[collection][id]
	var value interface{}
	if found {
		value = r.value
	}
	m.mut.RUnlock()

	if !found {
		return errors.Wrapf(ErrNotFound, "%s/%s", collection, id)
	}

	// Loaded from a snapshot, the concrete type is only known now
	if raw, ok := value.(json.RawMessage); ok {
		return errors.WithMessagef(json.Unmarshal(raw, out), "decode %s/%s", collection, id)
	}

	src := reflect.ValueOf(deepcopy.Copy(value))
	if !src.Type().AssignableTo(dst.Elem().Type()) {
		return errors.Errorf("%s/%s is a %s, not %s", collection, id, src.Type(), dst.Elem().Type())
	}
	dst.Elem().Set(src)
	return nil
}

func (m *Memory) IDs(collection string) ([]string, error) {
	m.mut.RLock()
	defer m.mut.RUnlock()

	c := m.data[collection]
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return c[ids[i]].seq < c[ids[j]].seq })
	return ids, nil
}

func (m *Memory) collection(name string) map[string]*record {
	c, found := m.data[name]
	if !found {
		c = make(map[string]*record)
		m.data[name] = c
	}
	return c
}

type snapshotEntry struct {
	ID    string          `json:"id"`
	Value json.RawMessage `json:"value"`
}

type snapshotFile struct {
	Collections map[string][]snapshotEntry `json:"collections"`
}

// flush writes all collections to the snapshot file. Caller holds mut.
func (m *Memory) flush() error {
	snap := snapshotFile{Collections: make(map[string][]snapshotEntry)}
	for name := range m.data {
		ids := make([]string, 0, len(m.data[name]))
		for id := range m.data[name] {
			ids = append(ids, id)
		}
		c := m.data[name]
		sort.Slice(ids, func(i, j int) bool { return c[ids[i]].seq < c[ids[j]].seq })

		entries := make([]snapshotEntry, 0, len(ids))
		for _, id := range ids {
			raw, err := encodeValue(c[id].value)
			if err != nil {
				return errors.WithMessagef(err, "encode %s/%s", name, id)
			}
			entries = append(entries, snapshotEntry{id, raw})
		}
		snap.Collections[name] = entries
	}

	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.WithMessage(err, "Could not marshal store snapshot")
	}

	dir := filepath.Dir(m.path)
	tmp, err := ioutil.TempFile(dir, ".store-*")
	if err != nil {
		return errors.WithMessage(err, "Could not write store snapshot")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return errors.WithMessage(err, "Could not write store snapshot")
	}
	if err := tmp.Close(); err != nil {
		return errors.WithMessage(err, "Could not write store snapshot")
	}
	return errors.WithMessage(os.Rename(tmp.Name(), m.path), "Could not replace store snapshot")
}

func encodeValue(v interface{}) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

package device

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
)

// Registry maps peripheral identifiers to device records.
//
// Stored records are immutable: every mutation stores a fresh copy, so readers on
// other goroutines never observe a half-applied change. Mutations are expected to
// come from a single goroutine (the session controller loop).
type Registry struct {
	devices *hashmap.Map[string, *Record]
	version atomic.Uint64
	logger  *logrus.Logger

	cbMu     sync.RWMutex
	onChange func()
}

// NewRegistry creates an empty registry
func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		devices: hashmap.New[string, *Record](),
		logger:  logger,
	}
}

// SetOnChange registers the change callback, replacing any previous one.
// Passing nil removes it.
func (r *Registry) SetOnChange(fn func()) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.onChange = fn
}

// Version returns a counter incremented by every change notification.
func (r *Registry) Version() uint64 {
	return r.version.Load()
}

func (r *Registry) notify() {
	r.version.Add(1)

	r.cbMu.RLock()
	fn := r.onChange
	r.cbMu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Upsert inserts a record for id or merges into the existing one.
// The discovered flag is OR-ed in; a missing name is filled from nameHint.
// Always notifies, even when nothing changed.
func (r *Registry) Upsert(id, nameHint string, discovered bool) {
	id = NormalizeID(id)
	if id == "" {
		return
	}

	existing, ok := r.devices.Get(id)
	if !ok {
		r.devices.Set(id, &Record{
			ID:         id,
			Name:       nameHint,
			Discovered: discovered,
		})
		r.logger.WithFields(logrus.Fields{
			"id":         id,
			"name":       nameHint,
			"discovered": discovered,
		}).Debug("Registered new device")
		r.notify()
		return
	}

	next := existing.clone()
	next.Discovered = existing.Discovered || discovered
	if next.Name == "" && nameHint != "" {
		next.Name = nameHint
	}
	r.devices.Set(id, next)
	r.notify()
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (Record, bool) {
	rec, ok := r.devices.Get(NormalizeID(id))
	if !ok {
		return Record{}, false
	}
	return *rec.clone(), true
}

// Contains reports whether id has ever been registered.
func (r *Registry) Contains(id string) bool {
	_, ok := r.devices.Get(NormalizeID(id))
	return ok
}

// Len returns the number of records.
func (r *Registry) Len() int {
	return r.devices.Len()
}

// All returns copies of every record in unspecified order.
func (r *Registry) All() []Record {
	out := make([]Record, 0, r.devices.Len())
	r.devices.Range(func(_ string, rec *Record) bool {
		out = append(out, *rec.clone())
		return true
	})
	return out
}

// Connected returns the connected devices sorted by display name.
func (r *Registry) Connected() []View {
	recs := r.filter(func(rec *Record) bool { return rec.IsConnected() })
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i].DisplayName(), recs[j].DisplayName()
		if a != b {
			return a < b
		}
		return recs[i].ID < recs[j].ID
	})
	return views(recs)
}

// Discovered returns the devices that are not connected, sorted by reported name.
// Custom names do not affect this ordering.
func (r *Registry) Discovered() []View {
	recs := r.filter(func(rec *Record) bool { return !rec.IsConnected() })
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i].ReportedName(), recs[j].ReportedName()
		if a != b {
			return a < b
		}
		return recs[i].ID < recs[j].ID
	})
	return views(recs)
}

// SetBattery stores a battery level for a known device. Unknown ids are ignored.
func (r *Registry) SetBattery(id string, level int) {
	r.update(id, func(rec *Record) {
		rec.Battery = &level
	})
}

// SetCustomName sets the override name; an empty name clears it. Unknown ids are ignored.
func (r *Registry) SetCustomName(id, name string) {
	r.update(id, func(rec *Record) {
		rec.CustomName = name
	})
}

// SetState stores the connection state of a known device. Unknown ids are ignored.
func (r *Registry) SetState(id string, state ConnectionState) {
	r.update(id, func(rec *Record) {
		rec.State = state
	})
}

// NotifyConnectionChanged fires the change callback without mutating any record.
func (r *Registry) NotifyConnectionChanged() {
	r.notify()
}

func (r *Registry) update(id string, mutate func(*Record)) {
	id = NormalizeID(id)
	existing, ok := r.devices.Get(id)
	if !ok {
		r.logger.WithField("id", id).Debug("Ignoring update for unknown device")
		return
	}
	next := existing.clone()
	mutate(next)
	r.devices.Set(id, next)
	r.notify()
}

func (r *Registry) filter(keep func(*Record) bool) []*Record {
	var out []*Record
	r.devices.Range(func(_ string, rec *Record) bool {
		if keep(rec) {
			out = append(out, rec)
		}
		return true
	})
	return out
}

func views(recs []*Record) []View {
	out := make([]View, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.view())
	}
	return out
}

package beatsource

import (
	"errors"

	"github.com/tidwall/gjson"
	"github.com/xeptore/flaw/v8"
)

// Record is one raw catalog document. The upstream guarantees no schema beyond
// per-entity expected fields, so every access goes through a presence-checked
// getter with an explicit default instead of assuming shape.
type Record struct {
	raw gjson.Result
}

func RecordFromBytes(b []byte) (Record, error) {
	if !gjson.ValidBytes(b) {
		return Record{}, flaw.From(errors.New("response body is not valid JSON")).Append(flaw.P{"body": string(b)})
	}
	return Record{raw: gjson.ParseBytes(b)}, nil
}

func recordFromResult(r gjson.Result) Record {
	return Record{raw: r}
}

func (r Record) Exists() bool {
	return r.raw.Exists()
}

func (r Record) Get(path string) Record {
	return Record{raw: r.raw.Get(path)}
}

func (r Record) Str(path string) (string, bool) {
	v := r.raw.Get(path)
	if !v.Exists() || v.Type == gjson.Null {
		return "", false
	}
	return v.String(), true
}

func (r Record) StrOr(path, fallback string) string {
	if v, ok := r.Str(path); ok && v != "" {
		return v
	}
	return fallback
}

func (r Record) Int(path string) (int64, bool) {
	v := r.raw.Get(path)
	if !v.Exists() || v.Type == gjson.Null {
		return 0, false
	}
	return v.Int(), true
}

// AsStr returns the record's own value when it is a bare JSON string, like
// the entries of a release_images array that mixes objects and URL strings.
func (r Record) AsStr() (string, bool) {
	if r.raw.Type == gjson.String {
		return r.raw.String(), true
	}
	return "", false
}

func (r Record) Bool(path string) bool {
	return r.raw.Get(path).Bool()
}

func (r Record) Array(path string) []Record {
	vs := r.raw.Get(path).Array()
	out := make([]Record, len(vs))
	for i, v := range vs {
		out[i] = Record{raw: v}
	}
	return out
}

// ID returns the record's entity id in its canonical string form. The upstream
// emits ids as both JSON numbers and strings for the same logical id; both
// normalize to the same key here.
func (r Record) ID() (string, bool) {
	v := r.raw.Get("id")
	if !v.Exists() || v.Type == gjson.Null {
		return "", false
	}
	if id := v.String(); id != "" {
		return id, true
	}
	return "", false
}

// Year extracts the leading year of a date-ish field like "2024-03-08".
func (r Record) Year(path string) (string, bool) {
	v, ok := r.Str(path)
	if !ok || len(v) < 4 {
		return "", false
	}
	return v[:4], true
}

func (r Record) Raw() string {
	return r.raw.Raw
}

// Entry is one cached record plus the ordinal numbering the fetch that built
// the cache derived for it. Records are immutable, so the numbering rides
// alongside instead of being patched into the document.
type Entry struct {
	Record      Record
	TrackNumber int
	TotalTracks int
}

// EntityCache maps canonical string entity ids to raw records. It is built
// once per top-level fetch and handed to the normalizers of the same
// operation, never shared across operations.
type EntityCache map[string]Entry

func NewEntityCache() EntityCache {
	return make(EntityCache)
}

func (c EntityCache) Put(rec Record) {
	if id, ok := rec.ID(); ok {
		c[id] = Entry{Record: rec, TrackNumber: 0, TotalTracks: 0}
	}
}

func (c EntityCache) PutNumbered(rec Record, trackNumber, totalTracks int) {
	if id, ok := rec.ID(); ok {
		c[id] = Entry{Record: rec, TrackNumber: trackNumber, TotalTracks: totalTracks}
	}
}

func (c EntityCache) Lookup(id string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	entry, ok := c[id]
	return entry, ok
}

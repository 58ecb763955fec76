package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
)

// members is a decoded JSON object.
type members map[string]json.RawMessage

// presence records which typed members a decoded object carried, so that
// empty values the registry sent are written back.
type presence map[string]bool

// decoder takes known members out of an object one by one; what is left over
// becomes the Extra of the owning struct.
type decoder struct {
	m    members
	seen presence
}

func newDecoder(data []byte) (*decoder, error) {
	var m members
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = members{}
	}
	return &decoder{m: m}, nil
}

// take decodes member key into v and removes it. A null member is left in
// place so it is written back verbatim.
func (d *decoder) take(key string, v any) error {
	raw, ok := d.m[key]
	if !ok || isNull(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	delete(d.m, key)
	if d.seen == nil {
		d.seen = presence{}
	}
	d.seen[key] = true
	return nil
}

// rest returns the members not taken, or nil when there are none.
func (d *decoder) rest() map[string]json.RawMessage {
	if len(d.m) == 0 {
		return nil
	}
	return d.m
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// encoder builds an object starting from the pass-through members.
type encoder struct {
	m   members
	err error
}

func newEncoder(extra map[string]json.RawMessage) *encoder {
	m := make(members, len(extra)+4)
	maps.Copy(m, extra)
	return &encoder{m: m}
}

func (e *encoder) put(key string, v any) {
	if e.err != nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		e.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	e.m[key] = raw
}

// putString writes a non-empty v, or an empty one the decoded object carried.
func (e *encoder) putString(key, v string, seen presence) {
	if v != "" || seen[key] {
		e.put(key, v)
	}
}

func (e *encoder) bytes() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return json.Marshal(map[string]json.RawMessage(e.m))
}

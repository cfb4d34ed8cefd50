package roster

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Entry is one duty as it appears in the roster document.
type Entry struct {
	Duty string `json:"duty" yaml:"duty"`
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// DutyConfig is a parsed Entry.
type DutyConfig struct {
	Duty   string
	Window TimeWindow
}

func (e Entry) Parse() (DutyConfig, error) {
	duty := strings.TrimSpace(e.Duty)
	if duty == "" {
		return DutyConfig{}, &ParseError{Input: e.Duty, Reason: "duty name is empty"}
	}
	w, err := ParseWindow(e.From, e.To)
	if err != nil {
		return DutyConfig{}, err
	}
	return DutyConfig{Duty: duty, Window: w}, nil
}

// DateKey is a roster key: either a recurring day/month ("5/3" is 5 March)
// or an exact date ("05/03/2025"), in which case Year is non-zero.
type DateKey struct {
	Day   int
	Month int
	Year  int
}

func ParseDateKey(s string) (DateKey, error) {
	raw := strings.TrimSpace(s)
	parts := strings.Split(raw, "/")
	if len(parts) != 2 && len(parts) != 3 {
		return DateKey{}, &ParseError{Input: s, Reason: "expected D/M or DD/MM/YYYY"}
	}
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return DateKey{}, &ParseError{Input: s, Reason: "date component is not a number"}
		}
		nums[i] = n
	}
	k := DateKey{Day: nums[0], Month: nums[1]}
	if len(nums) == 3 {
		k.Year = nums[2]
		if k.Year < 1970 {
			return DateKey{}, &ParseError{Input: s, Reason: "year out of range"}
		}
	}
	if k.Month < 1 || k.Month > 12 {
		return DateKey{}, &ParseError{Input: s, Reason: "month out of range"}
	}
	if k.Day < 1 || k.Day > 31 {
		return DateKey{}, &ParseError{Input: s, Reason: "day out of range"}
	}
	return k, nil
}

// Matches reports whether t (already in the roster's timezone) falls on k.
func (k DateKey) Matches(t time.Time) bool {
	if k.Year != 0 && t.Year() != k.Year {
		return false
	}
	return t.Day() == k.Day && int(t.Month()) == k.Month
}

// Roster maps date keys to ordered duties. It is never mutated after
// construction; a reload builds a new Roster and swaps it in whole.
type Roster struct {
	keys []string
	days map[string][]Entry
}

func New() *Roster {
	return &Roster{days: map[string][]Entry{}}
}

// Add appends entries under key, keeping first-seen key order. It is meant
// for building a roster before it is published.
func (r *Roster) Add(key string, entries ...Entry) *Roster {
	if _, ok := r.days[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.days[key] = append(r.days[key], entries...)
	return r
}

func (r *Roster) Keys() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.keys...)
}

func (r *Roster) Entries(key string) []Entry {
	if r == nil {
		return nil
	}
	return append([]Entry(nil), r.days[key]...)
}

// Len returns the total number of duties across all keys.
func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, es := range r.days {
		n += len(es)
	}
	return n
}

// MarshalJSON writes the roster as an object in document order.
func (r *Roster) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	if r != nil {
		for i, k := range r.keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			vb, err := json.Marshal(r.days[k])
			if err != nil {
				return nil, err
			}
			b.Write(kb)
			b.WriteByte(':')
			b.Write(vb)
		}
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// ParseJSON decodes a roster object, preserving key order.
func ParseJSON(data []byte) (*Roster, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("roster json: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("roster json: expected top-level object")
	}
	r := New()
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("roster json: %w", err)
		}
		key, _ := kt.(string)
		var entries []Entry
		if err := dec.Decode(&entries); err != nil {
			return nil, fmt.Errorf("roster json: key %q: %w", key, err)
		}
		r.Add(key, entries...)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("roster json: %w", err)
	}
	return r, nil
}

// ParseYAML decodes a roster mapping, preserving key order.
func ParseYAML(data []byte) (*Roster, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("roster yaml: %w", err)
	}
	r := New()
	if len(doc.Content) == 0 {
		return r, nil
	}
	m := doc.Content[0]
	if m.Kind != yaml.MappingNode {
		return nil, errors.New("roster yaml: expected top-level mapping")
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		key := m.Content[i].Value
		var entries []Entry
		if err := m.Content[i+1].Decode(&entries); err != nil {
			return nil, fmt.Errorf("roster yaml: key %q: %w", key, err)
		}
		r.Add(key, entries...)
	}
	return r, nil
}

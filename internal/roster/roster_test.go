package roster

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

const sampleJSON = `{
  "5/3": [{"duty": "A", "from": "6-0", "to": "7-30"}],
  "1/1": [
    {"duty": "B", "from": "4-0", "to": "6-0"},
    {"duty": "C", "from": "20-0", "to": "till completion"}
  ]
}`

func TestParseJSONKeepsOrder(t *testing.T) {
	t.Parallel()
	r, err := ParseJSON([]byte(sampleJSON))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if got := r.Keys(); !reflect.DeepEqual(got, []string{"5/3", "1/1"}) {
		t.Fatalf("Keys = %v", got)
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
	es := r.Entries("1/1")
	if es[1].Duty != "C" || es[1].To != "till completion" {
		t.Fatalf("unexpected entries: %+v", es)
	}

	out, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	again, err := ParseJSON(out)
	if err != nil {
		t.Fatalf("ParseJSON(Marshal): %v", err)
	}
	if !reflect.DeepEqual(again.Keys(), r.Keys()) {
		t.Fatalf("marshal lost key order: %s", out)
	}
}

func TestParseJSONRejectsArray(t *testing.T) {
	t.Parallel()
	if _, err := ParseJSON([]byte(`[]`)); err == nil {
		t.Fatal("expected error for non-object roster")
	}
}

func TestParseYAMLKeepsOrder(t *testing.T) {
	t.Parallel()
	doc := `
"9/4":
  - duty: Z
    from: 3-0
    to: 4-15
"2/4":
  - duty: Y
    from: 12-0
    to: till completion
`
	r, err := ParseYAML([]byte(doc))
	if err != nil {
		t.Fatalf("ParseYAML: %v", err)
	}
	if got := r.Keys(); !reflect.DeepEqual(got, []string{"9/4", "2/4"}) {
		t.Fatalf("Keys = %v", got)
	}
	if e := r.Entries("2/4")[0]; e.Duty != "Y" || e.From != "12-0" {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestParseDateKey(t *testing.T) {
	t.Parallel()
	k, err := ParseDateKey("5/3")
	if err != nil {
		t.Fatalf("ParseDateKey: %v", err)
	}
	if k != (DateKey{Day: 5, Month: 3}) {
		t.Fatalf("key = %+v", k)
	}
	k, err = ParseDateKey("05/03/2025")
	if err != nil {
		t.Fatalf("ParseDateKey exact: %v", err)
	}
	if k.Year != 2025 {
		t.Fatalf("Year = %d", k.Year)
	}

	loc := time.UTC
	if !k.Matches(time.Date(2025, 3, 5, 10, 0, 0, 0, loc)) {
		t.Fatal("expected match on exact date")
	}
	if k.Matches(time.Date(2026, 3, 5, 10, 0, 0, 0, loc)) {
		t.Fatal("exact key must not match another year")
	}

	for _, bad := range []string{"5", "x/3", "5/13", "0/3", "5/3/20", "1/2/3/4"} {
		if _, err := ParseDateKey(bad); err == nil {
			t.Fatalf("ParseDateKey(%q) expected error", bad)
		}
	}
}

func TestEntryParse(t *testing.T) {
	t.Parallel()
	dc, err := Entry{Duty: " A ", From: "6-0", To: "7-30"}.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if dc.Duty != "A" || dc.Window.From != (Clock{6, 0}) {
		t.Fatalf("unexpected duty config: %+v", dc)
	}
	if _, err := (Entry{Duty: "", From: "6-0", To: "7-0"}).Parse(); err == nil {
		t.Fatal("expected error for empty duty name")
	}
}

func TestFileProviderLoadsByExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "roster.json")
	if err := os.WriteFile(path, []byte(sampleJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	p := &FileProvider{Path: path}
	r, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d", r.Len())
	}

	missing := &FileProvider{Path: filepath.Join(dir, "nope.json")}
	if _, err := missing.Load(context.Background()); err == nil {
		t.Fatal("expected error for missing roster file")
	}
}

package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ternarybob/arbor"
)

func writeDataset(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "universities.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write dataset file: %v", err)
	}
	return path
}

func TestLoadAndLookup(t *testing.T) {
	path := writeDataset(t, `[
		{"name": "DTU", "country": "Denmark", "code": "DK-DTU", "sem1_spots": 16, "sem2_spots": 10, "min_gpa": 3.5},
		{"name": "KTH", "country": "Sweden", "code": "SE-KTH", "sem1_spots": 8, "sem2_spots": 8, "min_gpa": 4.0}
	]`)

	loader := NewLoader(path, arbor.NewLogger())
	if err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loader.Count() != 2 {
		t.Errorf("Expected 2 records, got %d", loader.Count())
	}

	rec, ok := loader.Lookup("DTU")
	if !ok {
		t.Fatal("Expected DTU record")
	}
	if rec.Sem1Spots != 16 || rec.MinGPA != 3.5 {
		t.Errorf("Unexpected record values: %+v", rec)
	}
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	path := writeDataset(t, `[{"name": "Lund", "country": "Sweden", "sem1_spots": 12, "sem2_spots": 6, "min_gpa": 3.8}]`)

	loader := NewLoader(path, arbor.NewLogger())
	if err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	for _, name := range []string{"lund", "LUND", " Lund "} {
		if _, ok := loader.Lookup(name); !ok {
			t.Errorf("Expected lookup %q to match", name)
		}
	}
	if _, ok := loader.Lookup("Uppsala"); ok {
		t.Error("Expected Uppsala to be absent")
	}
}

func TestLoadMissingFile(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "nope.json"), arbor.NewLogger())
	if err := loader.Load(); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeDataset(t, `{"not": "an array"}`)
	loader := NewLoader(path, arbor.NewLogger())
	if err := loader.Load(); err == nil {
		t.Error("Expected error for malformed dataset")
	}
}

func TestReloadReplacesSnapshot(t *testing.T) {
	path := writeDataset(t, `[{"name": "DTU", "country": "Denmark", "sem1_spots": 16, "sem2_spots": 10, "min_gpa": 3.5}]`)

	loader := NewLoader(path, arbor.NewLogger())
	if err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := os.WriteFile(path, []byte(`[{"name": "KTH", "country": "Sweden", "sem1_spots": 8, "sem2_spots": 8, "min_gpa": 4.0}]`), 0644); err != nil {
		t.Fatalf("Failed to rewrite dataset: %v", err)
	}
	if err := loader.Load(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if _, ok := loader.Lookup("DTU"); ok {
		t.Error("Expected DTU gone after reload")
	}
	if _, ok := loader.Lookup("KTH"); !ok {
		t.Error("Expected KTH present after reload")
	}
}

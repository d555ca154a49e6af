package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestFS_ContainsOrderedGooseFiles(t *testing.T) {
	names, err := fs.Glob(FS, "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	want := []string{"00001_principals.sql", "00002_services.sql", "00003_auth_limiter.sql"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i, n := range names {
		if n != want[i] {
			t.Fatalf("names[%d]=%s, want %s", i, n, want[i])
		}
		b, err := fs.ReadFile(FS, n)
		if err != nil {
			t.Fatalf("read %s: %v", n, err)
		}
		if !strings.Contains(string(b), "-- +goose Up") || !strings.Contains(string(b), "-- +goose Down") {
			t.Fatalf("%s lacks goose annotations", n)
		}
	}
}

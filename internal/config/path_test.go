package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultDataDirPrefersXDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got := DefaultDataDir(); got != "/custom/data/historykit" {
		t.Fatalf("got %s", got)
	}
}

func TestDefaultDataDirNoHome(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("HOME", "")
	if got := DefaultDataDir(); got != "./data" {
		t.Fatalf("expected fallback to ./data, got %s", got)
	}
}

func TestDefaultDataDirShape(t *testing.T) {
	got := DefaultDataDir()
	if !filepath.IsAbs(got) && !strings.HasPrefix(got, "./") {
		t.Fatalf("want absolute or ./ path, got %s", got)
	}
	if base := strings.ToLower(filepath.Base(got)); base != "historykit" && base != ".historykit" && base != "data" {
		t.Fatalf("unexpected directory name in %s", got)
	}
	if DefaultDataDir() != got {
		t.Fatalf("not stable")
	}
}

func TestIsDir(t *testing.T) {
	cases := map[string]bool{
		".":                        true,
		t.TempDir():                true,
		"/definitely/not/a/dir/xx": false,
		"path_test.go":             false,
	}
	for path, want := range cases {
		if got := isDir(path); got != want {
			t.Errorf("isDir(%s) = %v, want %v", path, got, want)
		}
	}
}

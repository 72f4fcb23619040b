package pathutil

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestResolve(t *testing.T) {
	allowedDir := t.TempDir()
	otherDir := t.TempDir()

	subDir := filepath.Join(allowedDir, "sims")
	if err := os.MkdirAll(subDir, 0700); err != nil {
		t.Fatalf("failed to create subdir: %v", err)
	}

	tests := []struct {
		name        string
		path        string
		allowedDirs []string
		wantErr     bool
		outside     bool
	}{
		{"file in allowed dir", filepath.Join(allowedDir, "a.arrow"), []string{allowedDir}, false, false},
		{"file in subdirectory", filepath.Join(subDir, "a.arrow"), []string{allowedDir}, false, false},
		{"the allowed dir itself", allowedDir, []string{allowedDir}, false, false},
		{"missing nested dirs", filepath.Join(allowedDir, "x", "y", "a.arrow"), []string{allowedDir}, false, false},
		{"dot-dot escape", filepath.Join(allowedDir, "..", "etc", "passwd"), []string{allowedDir}, true, true},
		{"embedded dot-dot escape", allowedDir + "/sims/../../etc/passwd", []string{allowedDir}, true, true},
		{"other directory", filepath.Join(otherDir, "a.arrow"), []string{allowedDir}, true, true},
		{"second allowed dir", filepath.Join(otherDir, "a.arrow"), []string{allowedDir, otherDir}, false, false},
		{"sibling with shared prefix", allowedDir + "x/a.arrow", []string{allowedDir}, true, true},
		{"null byte", filepath.Join(allowedDir, "a\x00.arrow"), []string{allowedDir}, true, false},
		{"empty", "", []string{allowedDir}, true, false},
		{"no allowed dirs", filepath.Join(allowedDir, "a.arrow"), nil, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.path, tt.allowedDirs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve() error = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrOutsideAllowed) != tt.outside {
				t.Errorf("errors.Is(err, ErrOutsideAllowed) = %v, want %v (err = %v)", !tt.outside, tt.outside, err)
			}
			if err == nil && !filepath.IsAbs(got) {
				t.Errorf("Resolve() = %q, want an absolute path", got)
			}
		})
	}
}

func TestResolve_Symlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test not supported on Windows")
	}

	allowedDir := t.TempDir()
	outsideDir := t.TempDir()

	escape := filepath.Join(allowedDir, "escape")
	if err := os.Symlink(outsideDir, escape); err != nil {
		t.Fatalf("failed to create symlink: %v", err)
	}
	if _, err := Resolve(filepath.Join(escape, "a.arrow"), []string{allowedDir}); !errors.Is(err, ErrOutsideAllowed) {
		t.Errorf("symlink out of the allowed dir: err = %v, want ErrOutsideAllowed", err)
	}

	real := filepath.Join(allowedDir, "real")
	if err := os.MkdirAll(real, 0700); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	link := filepath.Join(allowedDir, "link")
	if err := os.Symlink(real, link); err != nil {
		t.Fatalf("failed to create symlink: %v", err)
	}
	got, err := Resolve(filepath.Join(link, "a.arrow"), []string{allowedDir})
	if err != nil {
		t.Fatalf("symlink inside the allowed dir: %v", err)
	}
	if !strings.HasSuffix(got, filepath.Join("real", "a.arrow")) {
		t.Errorf("Resolve() = %q, want the symlink resolved", got)
	}
}

func TestRedactPath(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"/home/ana/sims/run3/artifacts.arrow", ".../run3/artifacts.arrow"},
		{"/artifacts.arrow", "artifacts.arrow"},
		{"run3/artifacts.arrow", ".../run3/artifacts.arrow"},
		{"artifacts.arrow", "artifacts.arrow"},
		{"/home/ana/.observer/", ".../ana/.observer"},
	}
	for _, tt := range tests {
		if got := RedactPath(tt.input); got != tt.want {
			t.Errorf("RedactPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

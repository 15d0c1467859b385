package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	safeDir := filepath.Join(tmpDir, "exports")
	outside := filepath.Join(tmpDir, "elsewhere")
	for _, d := range []string{safeDir, outside} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}
	link := filepath.Join(safeDir, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	tests := []struct {
		name      string
		filePath  string
		wantError bool
	}{
		{"file in dir", filepath.Join(safeDir, "results.csv"), false},
		{"nested file not yet created", filepath.Join(safeDir, "2024", "05", "results.csv"), false},
		{"the directory itself", safeDir, false},
		{"dot dot escape", filepath.Join(safeDir, "..", "results.csv"), true},
		{"relative escape", "../../../etc/passwd", true},
		{"absolute outside", "/etc/passwd", true},
		{"through symlink", filepath.Join(link, "results.csv"), true},
		{"symlink itself", link, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, safeDir)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory(%q) error = %v, wantError %v", tt.filePath, err, tt.wantError)
			}
		})
	}
}

func TestValidatePathWithinDirectoryMissingSafeDir(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	if err := ValidatePathWithinDirectory(filepath.Join(missing, "x.csv"), missing); err == nil {
		t.Error("expected error when the safe directory does not exist")
	}
}

func TestValidatePathWithinAllowedDirs(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()

	if err := ValidatePathWithinAllowedDirs(filepath.Join(b, "results.csv"), []string{a, b}); err != nil {
		t.Errorf("path in second dir rejected: %v", err)
	}
	if err := ValidatePathWithinAllowedDirs("/etc/passwd", []string{a, b}); err == nil {
		t.Error("expected /etc/passwd to be rejected")
	}
	if err := ValidatePathWithinAllowedDirs(filepath.Join(a, "x"), nil); err == nil {
		t.Error("expected error with no allowed dirs")
	}
}

func TestValidateExportPath(t *testing.T) {
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		path      string
		wantError bool
	}{
		{"temp dir", filepath.Join(os.TempDir(), "results.csv"), false},
		{"working dir", filepath.Join(cwd, "results.csv"), false},
		{"relative", "results.csv", false},
		{"system file", "/etc/passwd", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExportPath(tt.path)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidateExportPath(%q) error = %v, wantError %v", tt.path, err, tt.wantError)
			}
		})
	}
}

package version

import "testing"

func TestCurrent(t *testing.T) {
	saved := Version
	defer func() { Version = saved }()

	Version = "v0.3.0"
	got := Current()
	if got.Version != "v0.3.0" || got.GitSHA != GitSHA || got.BuildTime != BuildTime {
		t.Errorf("Current() = %+v", got)
	}
	if want := "rangefinder v0.3.0 (unknown, built unknown)"; got.String() != want {
		t.Errorf("String() = %q, want %q", got.String(), want)
	}
}

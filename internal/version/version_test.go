package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	b := Get()
	switch {
	case b.Version == "":
		t.Error("version should not be empty")
	case b.Commit == "":
		t.Error("commit should not be empty")
	case b.Date == "":
		t.Error("date should not be empty")
	case b.GoVersion != runtime.Version():
		t.Errorf("go version = %s, want %s", b.GoVersion, runtime.Version())
	}
	if GetVersion() != b.Version {
		t.Errorf("GetVersion (%s) should match Get (%s)", GetVersion(), b.Version)
	}
}

func TestString(t *testing.T) {
	s := String()
	for _, part := range []string{"version=", "commit=", "date=", "go="} {
		if !strings.Contains(s, part) {
			t.Errorf("String should contain %q, got %s", part, s)
		}
	}
}

func TestClientID(t *testing.T) {
	if got, want := ClientID("storefront"), "storefront/"+version; got != want {
		t.Errorf("ClientID = %s, want %s", got, want)
	}
}

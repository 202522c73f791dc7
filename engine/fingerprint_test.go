package engine_test

import (
	"strings"
	"testing"

	"github.com/hivedb-io/hivesync/engine"
)

func TestFingerprintNormalizesMethodAndPath(t *testing.T) {
	got := engine.Fingerprint("get", "/cells/", nil)
	if got != "GET cells" {
		t.Fatalf("unexpected fingerprint: %q", got)
	}

	if engine.Fingerprint("GET", "cells", nil) != got {
		t.Fatal("leading and trailing slashes must not change the fingerprint")
	}
}

func TestFingerprintWithoutBodyHasNoDigest(t *testing.T) {
	if strings.Contains(engine.Fingerprint("GET", "/cells", nil), "#") {
		t.Fatal("a body-less request must not carry a digest")
	}
}

func TestFingerprintDigestsBody(t *testing.T) {
	first := engine.Fingerprint("POST", "/cells/c/query", map[string]int{"limit": 10})
	second := engine.Fingerprint("POST", "/cells/c/query", map[string]int{"limit": 20})
	repeat := engine.Fingerprint("POST", "/cells/c/query", map[string]int{"limit": 10})

	if first == second {
		t.Fatal("different bodies must produce different fingerprints")
	}
	if first != repeat {
		t.Fatal("equal bodies must produce equal fingerprints")
	}

	_, digest, found := strings.Cut(first, "#")
	if !found {
		t.Fatalf("expected a digest suffix, got %q", first)
	}
	if len(digest) != 16 {
		t.Fatalf("expected a 16 character digest, got %q", digest)
	}
}

func TestInvalidationScopeCollapsesCellPaths(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/cells/cell1/data/k1", "cells/cell1"},
		{"/cells/cell1/data", "cells/cell1"},
		{"/cells/cell1/keys", "cells/cell1"},
		{"/cells/cell1", "cells/cell1"},
		{"/cells", "cells"},
		{"/auth/login", "auth/login"},
		{"/admin/stats", "admin/stats"},
	}

	for _, tc := range cases {
		if got := engine.InvalidationScope(tc.path); got != tc.want {
			t.Errorf("InvalidationScope(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

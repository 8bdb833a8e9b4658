package metadata

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
)

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()

	original := New("tenant", "acme", "region", "eu")
	cloned := original.Clone()
	cloned["tenant"] = "other"

	if original["tenant"] != "acme" {
		t.Fatalf("expected original to be untouched, got %q", original["tenant"])
	}
}

func TestWithAndWithAll(t *testing.T) {
	t.Parallel()

	base := New("a", "1")
	extended := base.With("b", "2").WithAll(Metadata{"c": "3"})

	if len(base) != 1 {
		t.Fatalf("expected base to keep one entry, got %d", len(base))
	}
	for key, want := range map[string]string{"a": "1", "b": "2", "c": "3"} {
		if extended.Get(key) != want {
			t.Fatalf("expected %s=%s, got %q", key, want, extended.Get(key))
		}
	}
}

func TestGetOnNilMap(t *testing.T) {
	t.Parallel()

	var m Metadata
	if m.Get("missing") != "" {
		t.Fatal("expected empty string from nil metadata")
	}
}

func TestWatermillRoundTrip(t *testing.T) {
	t.Parallel()

	md := FromWatermill(message.Metadata{"correlation_id": "abc"})
	if md.Get("correlation_id") != "abc" {
		t.Fatalf("expected conversion to keep entries, got %q", md.Get("correlation_id"))
	}

	back := md.ToWatermill()
	if back.Get("correlation_id") != "abc" {
		t.Fatalf("expected round trip to keep entries, got %q", back.Get("correlation_id"))
	}
}

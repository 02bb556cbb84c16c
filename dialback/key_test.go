package dialback

import "testing"

func TestKeyIsDeterministicAndNamespaced(t *testing.T) {
	k1 := Key("s3cr3t", "example.com", "example.net", "abc123")
	k2 := Key("s3cr3t", "example.com", "example.net", "abc123")
	if k1 != k2 {
		t.Fatalf("Key not deterministic: %q != %q", k1, k2)
	}
	if len(k1) != 40 {
		t.Fatalf("want 40 hex chars, got %d (%q)", len(k1), k1)
	}

	k3 := Key("s3cr3t", "example.com", "example.net", "different-id")
	if k1 == k3 {
		t.Fatal("streamID must affect the derived key")
	}
	k4 := Key("other-secret", "example.com", "example.net", "abc123")
	if k1 == k4 {
		t.Fatal("secret must affect the derived key")
	}
}

func TestLegacyKeyIsDeterministic(t *testing.T) {
	k1 := LegacyKey("s3cr3t", "example.com", "abc123")
	k2 := LegacyKey("s3cr3t", "example.com", "abc123")
	if k1 != k2 {
		t.Fatalf("LegacyKey not deterministic: %q != %q", k1, k2)
	}
	if len(k1) != 40 {
		t.Fatalf("want 40 hex chars, got %d", len(k1))
	}
	if k1 == Key("s3cr3t", "example.com", "", "abc123") {
		t.Fatal("legacy and HMAC key chains must not collide")
	}
}

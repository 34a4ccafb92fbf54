package digest

import "testing"

func TestResponseIsStableForFixedInputs(t *testing.T) {
	challenge := Challenge{Realm: "R", Nonce: "N"}

	got := Response("ANNOUNCE", "rtsp://x/1", challenge, DefaultUsername, DefaultPassword)
	want := Response("ANNOUNCE", "rtsp://x/1", challenge, DefaultUsername, DefaultPassword)

	if got != want {
		t.Fatalf("digest response not stable across calls: %q vs %q", got, want)
	}
}

func TestResponseChangesWithDifferentPassword(t *testing.T) {
	challenge := Challenge{Realm: "R", Nonce: "N"}

	a := Response("ANNOUNCE", "rtsp://x/1", challenge, DefaultUsername, "geheim")
	b := Response("ANNOUNCE", "rtsp://x/1", challenge, DefaultUsername, "different")

	if a == b {
		t.Fatal("expected different passwords to produce different digest responses")
	}
}

func TestResponseContainsAllFields(t *testing.T) {
	challenge := Challenge{Realm: "AppleTV", Nonce: "abcdef"}

	got := Response("SETUP", "rtsp://10.0.0.5/1", challenge, "iTunes", "geheim")

	for _, want := range []string{
		`username="iTunes"`,
		`realm="AppleTV"`,
		`nonce="abcdef"`,
		`uri="rtsp://10.0.0.5/1"`,
		`response="`,
	} {
		if !contains(got, want) {
			t.Fatalf("expected response %q to contain %q", got, want)
		}
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

package util

import "testing"

func TestContentFingerprint(t *testing.T) {
	if got := ContentFingerprint("v1", ""); got != "v1" {
		t.Fatalf("expected raw id without transform, got %s", got)
	}
	a := ContentFingerprint("v1", "watermark")
	b := ContentFingerprint("v1", "watermark")
	c := ContentFingerprint("v1", "subtitles")
	if a != b {
		t.Fatalf("fingerprint must be stable")
	}
	if a == c || len(a) != 64 {
		t.Fatalf("expected distinct sha256 fingerprints, got %s and %s", a, c)
	}
}

func TestParseList(t *testing.T) {
	got := ParseList(` ["v1", 'v2',, v3 ] `)
	want := []string{"v1", "v2", "v3"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if len(ParseList("")) != 0 {
		t.Fatalf("expected empty list")
	}
}

func TestUnique(t *testing.T) {
	got := Unique([]string{"a", "b", "a", "c", "b"})
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected %v", got)
	}
}

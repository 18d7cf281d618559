package checksum

import "testing"

func TestSumKnownValue(t *testing.T) {
	got := Sum([]byte("abc"))
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("Sum = %s, want %s", got, want)
	}
}

func TestMatches(t *testing.T) {
	sum := Sum([]byte("doc"))
	if !Matches([]byte("doc"), sum) {
		t.Error("expected match")
	}
	if Matches([]byte("doc2"), sum) {
		t.Error("unexpected match")
	}
}

func TestLedger(t *testing.T) {
	l := NewLedger()
	if l.Seen("entries", []byte("[]")) {
		t.Fatal("empty ledger reported a write")
	}

	l.Record("entries", []byte("[]"))
	if !l.Seen("entries", []byte("[]")) {
		t.Error("recorded write not seen")
	}
	if l.Seen("entries", []byte(`[{"text":"x"}]`)) {
		t.Error("outside edit reported as own write")
	}
	if l.Seen("activity", []byte("[]")) {
		t.Error("other key reported as own write")
	}

	l.Forget("entries")
	if l.Seen("entries", []byte("[]")) {
		t.Error("forgotten key still seen")
	}
}

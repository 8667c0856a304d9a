package supervisor

import (
	"slices"
	"testing"
)

func TestLineBufferSplitsAcrossWrites(t *testing.T) {
	var lb LineBuffer
	var got []string

	for _, chunk := range []string{"starting up\nrea", "dy:4", "312\r\n", "{\"method\":", "\"ready\"}\ntrailing"} {
		lb.Write([]byte(chunk))
		got = append(got, slices.Collect(lb.Lines())...)
	}

	want := []string{"starting up", "ready:4312", `{"method":"ready"}`}
	if !slices.Equal(got, want) {
		t.Errorf("lines = %q, want %q", got, want)
	}
	if lb.Pending() != "trailing" {
		t.Errorf("Pending() = %q, want trailing", lb.Pending())
	}
	if rest := lb.Flush(); rest != "trailing" {
		t.Errorf("Flush() = %q, want trailing", rest)
	}
	if lb.Pending() != "" {
		t.Errorf("Pending() after Flush = %q", lb.Pending())
	}
}

func TestLineBufferRestartable(t *testing.T) {
	var lb LineBuffer
	lb.Write([]byte("one\ntwo\nthree\n"))

	for line := range lb.Lines() {
		if line != "one" {
			t.Fatalf("first line = %q, want one", line)
		}
		break
	}

	if got := slices.Collect(lb.Lines()); !slices.Equal(got, []string{"two", "three"}) {
		t.Errorf("resumed lines = %q, want [two three]", got)
	}
	if got := slices.Collect(lb.Lines()); len(got) != 0 {
		t.Errorf("drained buffer yielded %q", got)
	}
}

func TestLineBufferEmptyLines(t *testing.T) {
	var lb LineBuffer
	lb.Write([]byte("\n\nx\n"))
	if got := slices.Collect(lb.Lines()); !slices.Equal(got, []string{"", "", "x"}) {
		t.Errorf("lines = %q", got)
	}
}

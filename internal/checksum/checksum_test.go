package checksum

import "testing"

func TestSum(t *testing.T) {
	// sha256("")
	const empty = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := Sum(nil); got != empty {
		t.Errorf("Sum(nil) = %s", got)
	}
	if Sum([]byte("T1\tP 0 1\ta\n")) == Sum([]byte("T1\tP 0 1\ta")) {
		t.Error("a trailing newline must change the digest")
	}
}

func TestETagRoundTrip(t *testing.T) {
	sum := Sum([]byte("x"))
	tests := []struct {
		header string
		want   string
	}{
		{ETag(sum), sum},
		{"W/" + ETag(sum), sum},
		{" " + sum + " ", sum},
		{"*", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := FromETag(tt.header); got != tt.want {
			t.Errorf("FromETag(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

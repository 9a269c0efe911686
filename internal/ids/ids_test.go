package ids

import (
	"sort"
	"testing"
	"time"
)

func TestNewIsSortable(t *testing.T) {
	const n = 256
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, New())
	}
	if !sort.StringsAreSorted(out) {
		t.Fatal("expected ids in creation order to be sorted")
	}

	seen := make(map[string]struct{}, n)
	for _, id := range out {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestTimeRoundTrip(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123)
	got, ok := Time(NewAt(at))
	if !ok {
		t.Fatal("expected id to parse")
	}
	if !got.Equal(at) {
		t.Fatalf("expected %v, got %v", at, got)
	}
	if _, ok := Time("not-a-ulid"); ok {
		t.Fatal("expected garbage to fail")
	}
}

package storage

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRegisterAndNew(t *testing.T) {
	called := false
	Register("fake", func(ctx context.Context, cfg Config) (Store, error) {
		called = true
		return nil, nil
	})

	if _, err := New(context.Background(), Config{Kind: "fake", DSN: "x"}); err != nil {
		t.Fatalf("New: %v", err)
	}
	if !called {
		t.Fatalf("factory was not invoked")
	}

	if _, err := New(context.Background(), Config{Kind: "nope"}); err == nil {
		t.Fatalf("New accepted an unregistered kind")
	}
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("New accepted an empty kind")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate Register")
		}
	}()
	f := func(ctx context.Context, cfg Config) (Store, error) { return nil, nil }
	Register("dup", f)
	Register("dup", f)
}

func TestNormalizeKey(t *testing.T) {
	t.Parallel()

	ts := time.Date(2023, time.June, 7, 13, 28, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "nil", in: nil, want: ""},
		{name: "string_trimmed", in: "  com.whatsapp  ", want: "com.whatsapp"},
		{name: "bytes", in: []byte(" x "), want: "x"},
		{name: "int64", in: int64(8429529), want: "8429529"},
		{name: "int", in: 7, want: "7"},
		{name: "time_rfc3339", in: ts, want: "2023-06-07T13:28:00Z"},
		{name: "fallback_stringifies", in: 1.5, want: "1.5"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := NormalizeKey(tc.in); got != tc.want {
				t.Fatalf("NormalizeKey(%v)=%q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

// A string and an integer with the same digits must collide: the processor
// dedupes on raw text while key spaces read typed values back from the store.
func TestNormalizeKeyTypeAgnostic(t *testing.T) {
	t.Parallel()

	if NormalizeKey("42") != NormalizeKey(int64(42)) {
		t.Fatalf("string/int64 keys diverge")
	}
}

func TestCompositeKey(t *testing.T) {
	t.Parallel()

	if got := CompositeKey("a"); got != "a" {
		t.Fatalf("single component=%q", got)
	}
	got := CompositeKey(int64(1), "phone", "555")
	want := "1\x1fphone\x1f555"
	if got != want {
		t.Fatalf("CompositeKey=%q, want %q", got, want)
	}
	// Components must not merge: ("ab","c") != ("a","bc").
	if CompositeKey("ab", "c") == CompositeKey("a", "bc") {
		t.Fatalf("composite keys collide across component boundaries")
	}
}

func TestTables(t *testing.T) {
	t.Parallel()

	tables := Tables()
	wantOrder := []string{"Contacts", "ContactDetails", "InstalledApps", "Calls", "SMS", "ChatMessages", "Keylogs"}
	if len(tables) != len(wantOrder) {
		t.Fatalf("len(Tables())=%d, want %d", len(tables), len(wantOrder))
	}
	for i, name := range wantOrder {
		if tables[i].Name != name {
			t.Fatalf("Tables()[%d]=%s, want %s", i, tables[i].Name, name)
		}
	}

	// Referenced tables must precede referrers so EnsureTables can create
	// them in order.
	created := map[string]bool{}
	for _, tab := range tables {
		for _, c := range tab.Columns {
			if c.References == "" {
				continue
			}
			ref := c.References[:strings.IndexByte(c.References, '(')]
			if !created[ref] {
				t.Fatalf("%s references %s before it is created", tab.Name, c.References)
			}
		}
		created[tab.Name] = true
	}

	if _, ok := TableByName("Contacts"); !ok {
		t.Fatalf("TableByName(Contacts) not found")
	}
	if _, ok := TableByName("Nope"); ok {
		t.Fatalf("TableByName(Nope) found")
	}
}

package header

import "testing"

func TestAppendPreservesOrderAndDuplicates(t *testing.T) {
	var l List
	l.Append(Header, "Accept", "text/html")
	l.Append(Header, "Set-Cookie", "a=1")
	l.Append(Header, "Set-Cookie", "b=2")

	if l.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", l.Len())
	}

	var got []string
	l.Each(func(_ Kind, name, value string) {
		got = append(got, name+"="+value)
	})
	want := []string{"Accept=text/html", "Set-Cookie=a=1", "Set-Cookie=b=2"}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("entry %d = %q, want %q", i, got[i], w)
		}
	}
}

func TestGetCaseInsensitiveForHeaders(t *testing.T) {
	var l List
	l.Append(Header, "Content-Type", "application/json")

	v, ok := l.Get(Header, "content-type")
	if !ok || v != "application/json" {
		t.Fatalf("Get() = %q, %v, want application/json, true", v, ok)
	}
}

func TestGetArgumentExactCase(t *testing.T) {
	var l List
	l.Append(GetArgument, "Name", "1")

	if _, ok := l.Get(GetArgument, "name"); ok {
		t.Fatalf("GetArgument lookup should be case-sensitive")
	}
	if v, ok := l.Get(GetArgument, "Name"); !ok || v != "1" {
		t.Fatalf("Get() = %q, %v, want 1, true", v, ok)
	}
}

func TestValuesCollectsAllMatches(t *testing.T) {
	var l List
	l.Append(Header, "Set-Cookie", "a=1")
	l.Append(Header, "X-Other", "z")
	l.Append(Header, "Set-Cookie", "b=2")

	vals := l.Values(nil, Header, "set-cookie")
	if len(vals) != 2 || vals[0] != "a=1" || vals[1] != "b=2" {
		t.Fatalf("Values() = %v, want [a=1 b=2]", vals)
	}
}

func TestResetRecyclesNodes(t *testing.T) {
	var l List
	l.Append(Header, "A", "1")
	l.Append(Header, "B", "2")
	l.Reset()

	if l.Len() != 0 {
		t.Fatalf("Len() after Reset = %d, want 0", l.Len())
	}
	if len(l.free) != 2 {
		t.Fatalf("free list = %d, want 2 recycled nodes", len(l.free))
	}

	l.Append(Header, "C", "3")
	if l.Len() != 1 {
		t.Fatalf("Len() after reuse = %d, want 1", l.Len())
	}
	if len(l.free) != 1 {
		t.Fatalf("free list after reuse = %d, want 1", len(l.free))
	}
}

package threads

import "testing"

func TestResolveKey(t *testing.T) {
	tests := []struct {
		name      string
		keys      []string
		requested string
		want      string
		wantOK    bool
	}{
		{name: "exact", keys: []string{"abc:1", "abc"}, requested: "abc", want: "abc", wantOK: true},
		{name: "stored key is suffixed", keys: []string{"abc:1"}, requested: "abc", want: "abc:1", wantOK: true},
		{name: "requested id is suffixed", keys: []string{"abc"}, requested: "abc:1", want: "abc", wantOK: true},
		{name: "same base different suffix", keys: []string{"abc:1"}, requested: "abc:2", want: "abc:1", wantOK: true},
		{name: "literal prefix", keys: []string{"abcdef"}, requested: "abc", want: "abcdef", wantOK: true},
		{name: "unrelated", keys: []string{"xyz", "q:1"}, requested: "abc", wantOK: false},
		{name: "empty store", keys: nil, requested: "abc", wantOK: false},
		{name: "empty request", keys: []string{"abc"}, requested: "", wantOK: false},
		{name: "first in order wins", keys: []string{"abc:1", "abc:2"}, requested: "abc", want: "abc:1", wantOK: true},
		{name: "earlier base match beats later extension", keys: []string{"t9:x", "t9:y:z"}, requested: "t9:y", want: "t9:x", wantOK: true},
		{name: "earlier extension beats later base match", keys: []string{"t9:y:z", "t9:x"}, requested: "t9:y", want: "t9:y:z", wantOK: true},
		{name: "exact beats earlier flexible match", keys: []string{"t9:x", "t9:y"}, requested: "t9:y", want: "t9:y", wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveKey(tt.keys, tt.requested)
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("ResolveKey(%v, %q) = (%q, %v), want (%q, %v)", tt.keys, tt.requested, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestStoreResolve(t *testing.T) {
	s := NewStore()
	s.Put(Thread{ThreadID: "abc:1"})

	key, ok := s.Resolve("abc")
	if !ok || key != "abc:1" {
		t.Fatalf("Resolve(abc) = (%q, %v)", key, ok)
	}
	if _, ok := s.Resolve("nothing"); ok {
		t.Fatal("expected miss for unrelated id")
	}

	key, got, ok := s.Lookup("abc:2")
	if !ok || key != "abc:1" || got.ThreadID != "abc:1" {
		t.Fatalf("Lookup(abc:2) = (%q, %+v, %v)", key, got, ok)
	}
}

func TestBaseID(t *testing.T) {
	if BaseID("a:b:c") != "a" || BaseID("plain") != "plain" {
		t.Fatal("unexpected base id")
	}
}

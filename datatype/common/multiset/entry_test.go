package multiset

import (
	"errors"
	"math/rand"
	"reflect"
	"sort"
	"testing"
)

func randomEntries(r *rand.Rand, n int) []Entry {
	ids := make(map[uint64]struct{}, n)
	for len(ids) < n {
		ids[r.Uint64()%1000] = struct{}{}
	}
	entries := make([]Entry, 0, n)
	for id := range ids {
		entries = append(entries, Entry{ID: id, Count: int32(r.Intn(100) + 1)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

func TestEntryListRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(17))
	for n := 0; n < 20; n++ {
		entries := randomEntries(r, n)
		encoded, err := EncodeEntries(entries)
		if err != nil {
			t.Fatalf("unable to encode %v: %v\n", entries, err)
		}
		if len(encoded) != ListSize(n) {
			t.Errorf("expected %d bytes for %d entries, got %d\n", ListSize(n), n, len(encoded))
		}
		list, err := DecodeEntryList(encoded, 0)
		if err != nil {
			t.Fatalf("unable to decode: %v\n", err)
		}
		if list.Len() != n {
			t.Errorf("expected %d entries, got %d\n", n, list.Len())
		}
		if n > 0 && !reflect.DeepEqual(list.Entries(), entries) {
			t.Errorf("round trip failed: expected %v, got %v\n", entries, list.Entries())
		}
	}
}

func TestDecodeAtOffset(t *testing.T) {
	a, _ := EncodeEntries([]Entry{{ID: 3, Count: 4}})
	b, _ := EncodeEntries([]Entry{{ID: 1, Count: 2}, {ID: 9, Count: 6}})
	data := append(append([]byte{}, a...), b...)
	list, err := DecodeEntryList(data, len(a))
	if err != nil {
		t.Fatal(err)
	}
	if list.String() != "[{1:2},{9:6}]" {
		t.Errorf("bad list at offset: %s\n", list)
	}
	if list.Sum() != 8 {
		t.Errorf("expected sum 8, got %d\n", list.Sum())
	}
	if c := list.Count(9); c != 6 {
		t.Errorf("expected count 6 for label 9, got %d\n", c)
	}
	if c := list.Count(5); c != 0 {
		t.Errorf("expected count 0 for missing label, got %d\n", c)
	}
	if id, count := list.Argmax(); id != 9 || count != 6 {
		t.Errorf("bad argmax: %d, %d\n", id, count)
	}
}

func TestMalformedLists(t *testing.T) {
	good, _ := EncodeEntries([]Entry{{ID: 1, Count: 1}, {ID: 2, Count: 1}})

	unsorted := append([]byte{}, good...)
	copy(unsorted[4:12], good[16:24]) // first id becomes 2, equal to second

	zeroCount := append([]byte{}, good...)
	zeroCount[12] = 0

	tests := []struct {
		name   string
		data   []byte
		offset int
	}{
		{"truncated header", good[:3], 0},
		{"truncated body", good[:len(good)-1], 0},
		{"offset past end", good, len(good)},
		{"negative offset", good, -1},
		{"unsorted ids", unsorted, 0},
		{"zero count", zeroCount, 0},
	}
	for _, tc := range tests {
		if _, err := DecodeEntryList(tc.data, tc.offset); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: expected ErrMalformed, got %v\n", tc.name, err)
		}
	}

	if _, err := EncodeEntries([]Entry{{ID: 5, Count: 1}, {ID: 5, Count: 2}}); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed encoding duplicate ids, got %v\n", err)
	}
	if _, err := EncodeEntries([]Entry{{ID: 5, Count: 0}}); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed encoding zero count, got %v\n", err)
	}
}

func TestEqualAndHash(t *testing.T) {
	a, _ := EncodeEntries([]Entry{{ID: 1, Count: 2}, {ID: 3, Count: 4}})
	b, _ := EncodeEntries([]Entry{{ID: 1, Count: 2}, {ID: 3, Count: 4}})
	c, _ := EncodeEntries([]Entry{{ID: 1, Count: 2}, {ID: 3, Count: 5}})
	if !EntryList(a).Equal(b) || EntryList(a).Hash() != EntryList(b).Hash() {
		t.Errorf("identical lists should be equal with equal hashes\n")
	}
	if EntryList(a).Equal(c) {
		t.Errorf("lists with different counts should not be equal\n")
	}
}

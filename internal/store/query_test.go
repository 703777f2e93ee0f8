package store

import "testing"

func TestFilterOps(t *testing.T) {
	rec := Record{Path: "stories/s1", Fields: map[string]any{
		"uid":       "u1",
		"createdAt": float64(200),
		"members":   []any{"u1", "u2"},
	}}

	tests := []struct {
		name string
		q    Query
		want bool
	}{
		{"equal", Query{Collection: "stories"}.Where("uid", OpEqual, "u1"), true},
		{"equal miss", Query{Collection: "stories"}.Where("uid", OpEqual, "u2"), false},
		{"not equal", Query{Collection: "stories"}.Where("uid", OpNotEqual, "u2"), true},
		{"gte hit", Query{Collection: "stories"}.Where("createdAt", OpGTE, 200), true},
		{"gte cross-type", Query{Collection: "stories"}.Where("createdAt", OpGTE, int64(150)), true},
		{"gte miss", Query{Collection: "stories"}.Where("createdAt", OpGTE, 201), false},
		{"in hit", Query{Collection: "stories"}.Where("uid", OpIn, []string{"u3", "u1"}), true},
		{"in miss", Query{Collection: "stories"}.Where("uid", OpIn, []string{"u3"}), false},
		{"contains hit", Query{Collection: "stories"}.Where("members", OpContains, "u2"), true},
		{"contains miss", Query{Collection: "stories"}.Where("members", OpContains, "u9"), false},
		{"conjunction", Query{Collection: "stories"}.
			Where("uid", OpEqual, "u1").
			Where("createdAt", OpGTE, 500), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.Matches(rec); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSortDescTieBreak(t *testing.T) {
	recs := []Record{
		{Path: "m/b", Fields: map[string]any{"createdAt": float64(100)}},
		{Path: "m/c", Fields: map[string]any{"createdAt": float64(200)}},
		{Path: "m/a", Fields: map[string]any{"createdAt": float64(100)}},
	}
	SortDesc(recs, "createdAt")

	want := []string{"m/c", "m/b", "m/a"}
	for i, w := range want {
		if recs[i].Path != w {
			t.Fatalf("recs[%d] = %s, want %s", i, recs[i].Path, w)
		}
	}
}

func TestValueEqualNumeric(t *testing.T) {
	if !ValueEqual(float64(5), int64(5)) {
		t.Error("float64(5) != int64(5)")
	}
	if !ValueEqual(5, float64(5)) {
		t.Error("int(5) != float64(5)")
	}
	if ValueEqual(float64(5), int64(6)) {
		t.Error("5 == 6")
	}
	if !ValueEqual(
		map[string]any{"fromUid": "u1", "fromUsername": "alice"},
		map[string]any{"fromUid": "u1", "fromUsername": "alice"},
	) {
		t.Error("identical maps compare unequal")
	}
}

func TestUnionRemoveValue(t *testing.T) {
	arr := UnionValue(nil, "u1")
	arr = UnionValue(arr, "u2")
	arr = UnionValue(arr, "u1") // duplicate
	if len(arr) != 2 {
		t.Fatalf("union = %v, want 2 entries", arr)
	}

	arr = RemoveValue(arr, "u1")
	if len(arr) != 1 || arr[0] != "u2" {
		t.Fatalf("remove = %v, want [u2]", arr)
	}
	arr = RemoveValue(arr, "missing")
	if len(arr) != 1 {
		t.Fatalf("removing absent value changed array: %v", arr)
	}
}

func TestRecordID(t *testing.T) {
	if got := (Record{Path: "chats/c1/messages/m1"}).ID(); got != "m1" {
		t.Errorf("ID = %q, want m1", got)
	}
	if got := Collection("chats/c1/messages/m1"); got != "chats/c1/messages" {
		t.Errorf("Collection = %q", got)
	}
}

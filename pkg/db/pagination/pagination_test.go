package pagination

import "testing"

func TestCursorRoundTrip(t *testing.T) {
	token, err := EncodeCursor(Cursor{Key: "1234567890:2"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	cursor, err := DecodeCursor(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cursor.Key != "1234567890:2" {
		t.Fatalf("key = %q, want %q", cursor.Key, "1234567890:2")
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	if _, err := DecodeCursor("not base64!"); err == nil {
		t.Fatal("expected error for invalid token")
	}
}

func TestPageLimit(t *testing.T) {
	cases := []struct {
		size int
		want int
	}{
		{0, 20},
		{-5, 20},
		{1, 1},
		{100, 100},
		{500, 100},
	}
	for _, tc := range cases {
		if got := (Page{PageSize: tc.size}).Limit(); got != tc.want {
			t.Fatalf("Limit(%d) = %d, want %d", tc.size, got, tc.want)
		}
	}
}

func TestBuildPageInfo(t *testing.T) {
	type row struct{ key string }
	keyOf := func(r *row) string { return r.key }

	items := []*row{{"a"}, {"b"}, {"c"}}
	trimmed, info, err := BuildPageInfo(items, 2, keyOf)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(trimmed) != 2 {
		t.Fatalf("len = %d, want 2", len(trimmed))
	}
	if !info.HasMore {
		t.Fatal("expected has_more on over-fetched set")
	}
	cursor, err := DecodeCursor(info.NextPageToken)
	if err != nil {
		t.Fatalf("decode token: %v", err)
	}
	if cursor.Key != "b" {
		t.Fatalf("cursor key = %q, want %q", cursor.Key, "b")
	}

	trimmed, info, err = BuildPageInfo(items[:2], 2, keyOf)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if info.HasMore {
		t.Fatal("exact page must not report more")
	}
	if len(trimmed) != 2 {
		t.Fatalf("len = %d, want 2", len(trimmed))
	}

	_, info, err = BuildPageInfo(nil, 2, keyOf)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if info.HasMore || info.NextPageToken != "" {
		t.Fatalf("empty set should yield empty page info, got %+v", info)
	}
}

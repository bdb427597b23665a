package pagination

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestValidateLimit(t *testing.T) {
	for _, limit := range []int{1, DefaultLimit, MaxLimit} {
		if err := ValidateLimit(limit); err != nil {
			t.Errorf("ValidateLimit(%d) = %v", limit, err)
		}
	}
	for _, limit := range []int{0, -10, MaxLimit + 1} {
		if err := ValidateLimit(limit); !errors.Is(err, ErrInvalidLimit) {
			t.Errorf("ValidateLimit(%d) = %v, want ErrInvalidLimit", limit, err)
		}
	}
}

func TestClampLimit(t *testing.T) {
	tests := map[int]int{0: DefaultLimit, -1: DefaultLimit, 10: 10, MaxLimit + 5: MaxLimit}
	for in, want := range tests {
		if got := ClampLimit(in); got != want {
			t.Errorf("ClampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestCursorRoundTrip(t *testing.T) {
	for _, offset := range []int{0, 1, 50, 12345} {
		got, err := DecodeCursor(EncodeCursor(offset))
		if err != nil {
			t.Fatalf("DecodeCursor: %v", err)
		}
		if got != offset {
			t.Errorf("offset = %d, want %d", got, offset)
		}
	}

	for _, bad := range []string{"!!!", "bm9wZQ", EncodeCursor(-1)} {
		if _, err := DecodeCursor(bad); !errors.Is(err, ErrInvalidCursor) {
			t.Errorf("DecodeCursor(%q) = %v, want ErrInvalidCursor", bad, err)
		}
	}
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	page, next, err := Page(items, "", 2)
	if err != nil || len(page) != 2 || page[0] != 1 || next == "" {
		t.Fatalf("first page = %v %q %v", page, next, err)
	}
	page, next, err = Page(items, next, 2)
	if err != nil || len(page) != 2 || page[0] != 3 || next == "" {
		t.Fatalf("second page = %v %q %v", page, next, err)
	}
	page, next, err = Page(items, next, 2)
	if err != nil || len(page) != 1 || page[0] != 5 || next != "" {
		t.Fatalf("last page = %v %q %v", page, next, err)
	}

	if _, _, err := Page(items, EncodeCursor(9), 2); !errors.Is(err, ErrInvalidCursor) {
		t.Errorf("cursor past the end: %v", err)
	}

	page, next, err = Page([]int{}, "", 2)
	if err != nil || len(page) != 0 || next != "" {
		t.Errorf("empty list = %v %q %v", page, next, err)
	}
}

func TestCollect(t *testing.T) {
	items := make([]string, 7)
	for i := range items {
		items[i] = fmt.Sprintf("item-%d", i)
	}

	var calls int
	all, err := Collect(context.Background(), func(_ context.Context, cursor string) ([]string, string, error) {
		calls++
		return Page(items, cursor, 3)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(items) || calls != 3 {
		t.Errorf("collected %d items in %d calls", len(all), calls)
	}

	_, err = Collect(context.Background(), func(context.Context, string) ([]string, string, error) {
		return nil, "same", nil
	})
	if !errors.Is(err, ErrInvalidCursor) {
		t.Errorf("stuck cursor: %v", err)
	}
}

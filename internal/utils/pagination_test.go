package utils

import "testing"

func TestIntOr(t *testing.T) {
	for _, tc := range []struct {
		in       string
		def, out int
	}{
		{"", 25, 25},
		{"7", 0, 7},
		{" 50 ", 0, 50},
		{"-3", 9, -3},
		{"ten", 9, 9},
		{"1e3", 9, 9},
		{"99999999999999999999", 4, 4},
	} {
		if got := IntOr(tc.in, tc.def); got != tc.out {
			t.Errorf("IntOr(%q, %d) = %d, want %d", tc.in, tc.def, got, tc.out)
		}
	}
}

func TestParseID_RoundTrip(t *testing.T) {
	for _, s := range []string{"1", "118", "18446744073709551615"} {
		id, ok := ParseID(s)
		if !ok || FormatID(id) != s {
			t.Errorf("ParseID(%q) = %d, %v", s, id, ok)
		}
	}
	for _, s := range []string{"", "0", "-4", "+4", "12a", "3.0", "18446744073709551616"} {
		if id, ok := ParseID(s); ok {
			t.Errorf("ParseID(%q) accepted as %d", s, id)
		}
	}
}

func TestClampPage(t *testing.T) {
	type pg struct{ page, size int }
	for in, want := range map[[2]string]pg{
		{"", ""}:        {DefaultPage, DefaultPageSize},
		{"4", "10"}:     {4, 10},
		{"0", "0"}:      {1, 1},
		{"-1", "5000"}:  {1, MaxPageSize},
		{"two", "many"}: {DefaultPage, DefaultPageSize},
		{" 2 ", "100"}:  {2, 100},
	} {
		p, s := ClampPage(in[0], in[1])
		if (pg{p, s}) != want {
			t.Errorf("ClampPage(%q, %q) = %d, %d, want %+v", in[0], in[1], p, s, want)
		}
	}
}

func TestTotalPages(t *testing.T) {
	for _, tc := range []struct {
		total int64
		size  int
		want  int
	}{
		{0, 20, 0},
		{1, 20, 1},
		{40, 20, 2},
		{41, 20, 3},
		{10, 0, 0},
		{-5, 20, 0},
	} {
		if got := TotalPages(tc.total, tc.size); got != tc.want {
			t.Errorf("TotalPages(%d, %d) = %d, want %d", tc.total, tc.size, got, tc.want)
		}
	}
}

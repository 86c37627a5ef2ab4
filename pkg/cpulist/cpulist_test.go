package cpulist

import (
	"reflect"
	"testing"
)

func TestExpand(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  []int
	}{
		{"empty", "", nil},
		{"single", "3", []int{3}},
		{"range", "0-3", []int{0, 1, 2, 3}},
		{"mixed", "7,0-2,9", []int{0, 1, 2, 7, 9}},
		{"duplicates", "1,1-2,2", []int{1, 2}},
		{"spaces", " 4 , 6-7 ", []int{4, 6, 7}},
	}
	for _, tc := range cases {
		got, err := Expand(tc.input)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestExpandRejectsGarbage(t *testing.T) {
	for _, input := range []string{"a", "1-b", "5-2", "-1"} {
		if _, err := Expand(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestCollapse(t *testing.T) {
	cases := []struct {
		input []int
		want  string
	}{
		{nil, ""},
		{[]int{0}, "0"},
		{[]int{0, 1}, "0,1"},
		{[]int{0, 1, 2, 3, 4, 5, 7, 9, 10}, "0-5,7,9,10"},
		{[]int{5, 3, 4}, "3-5"},
	}
	for _, tc := range cases {
		if got := Collapse(tc.input); got != tc.want {
			t.Fatalf("Collapse(%v): expected %q, got %q", tc.input, tc.want, got)
		}
	}
}

func TestCollapseExpandRoundTrip(t *testing.T) {
	in := []int{0, 2, 3, 4, 8, 12, 13}
	out, err := Expand(Collapse(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch: %v vs %v", in, out)
	}
}

func TestIntersectAndJoin(t *testing.T) {
	got := Intersect([]int{0, 1, 2, 3}, []int{3, 1, 9})
	if !reflect.DeepEqual(got, []int{1, 3}) {
		t.Fatalf("unexpected intersection %v", got)
	}
	if Join(got) != "1,3" {
		t.Fatalf("unexpected join %q", Join(got))
	}
	if !Contains(got, 3) || Contains(got, 2) {
		t.Fatalf("Contains misbehaves on %v", got)
	}
}

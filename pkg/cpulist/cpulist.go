// Package cpulist converts between kernel-style CPU list strings ("0-3,7")
// and sorted CPU ID slices.
package cpulist

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Expand parses a list such as "0-3,7,9-10" into a sorted, de-duplicated slice.
func Expand(list string) ([]int, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return nil, nil
	}
	seen := make(map[int]struct{})
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid cpu %q in list %q", lo, list)
		}
		end := start
		if isRange {
			end, err = strconv.Atoi(strings.TrimSpace(hi))
			if err != nil {
				return nil, fmt.Errorf("invalid cpu %q in list %q", hi, list)
			}
		}
		if start < 0 || end < start {
			return nil, fmt.Errorf("invalid cpu range %q in list %q", part, list)
		}
		for cpu := start; cpu <= end; cpu++ {
			seen[cpu] = struct{}{}
		}
	}
	cpus := make([]int, 0, len(seen))
	for cpu := range seen {
		cpus = append(cpus, cpu)
	}
	sort.Ints(cpus)
	return cpus, nil
}

// MustExpand is Expand for literals known to be valid.
func MustExpand(list string) []int {
	cpus, err := Expand(list)
	if err != nil {
		panic(err)
	}
	return cpus
}

// Collapse renders CPUs as a compact list, folding runs of three or more
// into ranges ("0-5,7,9,10").
func Collapse(cpus []int) string {
	if len(cpus) == 0 {
		return ""
	}
	sorted := append([]int(nil), cpus...)
	sort.Ints(sorted)

	var parts []string
	for i := 0; i < len(sorted); {
		j := i
		for j+1 < len(sorted) && sorted[j+1] == sorted[j]+1 {
			j++
		}
		switch j - i {
		case 0:
			parts = append(parts, strconv.Itoa(sorted[i]))
		case 1:
			parts = append(parts, strconv.Itoa(sorted[i]), strconv.Itoa(sorted[j]))
		default:
			parts = append(parts, fmt.Sprintf("%d-%d", sorted[i], sorted[j]))
		}
		i = j + 1
	}
	return strings.Join(parts, ",")
}

// Join renders CPUs as a plain comma separated list, as taskset expects.
func Join(cpus []int) string {
	parts := make([]string, len(cpus))
	for i, cpu := range cpus {
		parts[i] = strconv.Itoa(cpu)
	}
	return strings.Join(parts, ",")
}

// Intersect returns the CPUs of a that are also in b, in a's order.
func Intersect(a, b []int) []int {
	allowed := make(map[int]struct{}, len(b))
	for _, cpu := range b {
		allowed[cpu] = struct{}{}
	}
	out := make([]int, 0, len(a))
	for _, cpu := range a {
		if _, ok := allowed[cpu]; ok {
			out = append(out, cpu)
		}
	}
	return out
}

// Contains reports whether cpu is in cpus.
func Contains(cpus []int, cpu int) bool {
	for _, c := range cpus {
		if c == cpu {
			return true
		}
	}
	return false
}

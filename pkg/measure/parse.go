package measure

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/srodi/jitterlens/pkg/stats"
)

const breakPrefix = "# Break value:"

// parseResult is what one pass over the sampler output produced.
type parseResult struct {
	cores     []*stats.Histogram
	system    *stats.Histogram
	rows      int
	broke     bool
	breakVal  int
	malformed []string
}

// parseHistogram reads the sampler's histogram rows: a bucket index followed
// by one count column per core, in core order. Comment lines are skipped
// except for the break value. Rows that do not parse are collected and
// skipped.
func parseHistogram(r io.Reader, ncores int) (*parseResult, error) {
	res := &parseResult{
		cores:  make([]*stats.Histogram, ncores),
		system: stats.New(),
	}
	for i := range res.cores {
		res.cores[i] = stats.New()
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "#") {
			if strings.HasPrefix(line, breakPrefix) {
				v, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, breakPrefix)))
				if err != nil {
					res.malformed = append(res.malformed, line)
					continue
				}
				res.broke, res.breakVal = true, v
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		counts, index, err := parseRow(fields, ncores)
		if err != nil {
			res.malformed = append(res.malformed, line)
			continue
		}
		res.rows++
		for i, c := range counts {
			// index is non-negative, so Add cannot fail.
			_ = res.cores[i].Add(index, c)
		}
	}
	for _, h := range res.cores {
		res.system.Merge(h)
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("reading sampler output: %w", err)
	}
	return res, nil
}

func parseRow(fields []string, ncores int) ([]uint64, int, error) {
	index, err := strconv.Atoi(fields[0])
	if err != nil || index < 0 {
		return nil, 0, fmt.Errorf("bad bucket index %q", fields[0])
	}
	if len(fields) < ncores+1 {
		return nil, 0, fmt.Errorf("expected %d count columns, got %d", ncores, len(fields)-1)
	}
	counts := make([]uint64, ncores)
	for i := range counts {
		c, err := strconv.ParseUint(fields[i+1], 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("bad count %q", fields[i+1])
		}
		counts[i] = c
	}
	return counts, index, nil
}

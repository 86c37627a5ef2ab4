package measure

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHistogramSystemIsSumOfCores(t *testing.T) {
	out := `# Histogram
0 5 3
1 2 7
2 x 1
3 0 4
# Break value: 88
`
	res, err := parseHistogram(strings.NewReader(out), 2)
	require.NoError(t, err)

	assert.Equal(t, 3, res.rows)
	assert.Equal(t, []string{"2 x 1"}, res.malformed)
	assert.True(t, res.broke)
	assert.Equal(t, 88, res.breakVal)

	assert.Equal(t, uint64(7), res.cores[0].NumSamples())
	assert.Equal(t, uint64(14), res.cores[1].NumSamples())
	assert.Equal(t, uint64(21), res.system.NumSamples())
	for _, idx := range []int{0, 1, 3} {
		assert.Equal(t, res.cores[0].Count(idx)+res.cores[1].Count(idx), res.system.Count(idx), "bucket %d", idx)
	}
}

package reporter

import (
	"fmt"
	"io"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporterBelowCap(t *testing.T) {
	r := New(100)
	r.Printf("Saving raw code into %s...\n", "/tmp/box/2001/raw")
	_, _ = r.WriteString("Return code: 0\n")

	want := "Saving raw code into /tmp/box/2001/raw...\nReturn code: 0\n"
	assert.Equal(t, want, r.Report())
	assert.Equal(t, want, r.ReportTruncated())
	assert.False(t, r.Truncated())
}

func TestReporterExactlyAtCap(t *testing.T) {
	r := New(10)
	_, _ = r.WriteString(strings.Repeat("a", 10))

	assert.False(t, r.Truncated())
	assert.Equal(t, strings.Repeat("a", 10), r.ReportTruncated())
}

func TestReporterCrossingCap(t *testing.T) {
	r := New(50)
	_, _ = r.WriteString(strings.Repeat("h", 30))
	_, _ = r.WriteString(strings.Repeat("x", 30) + strings.Repeat("t", 10))

	out := r.ReportTruncated()
	assert.True(t, r.Truncated())
	assert.LessOrEqual(t, len(out), 50)
	assert.Contains(t, out, "[TRUNCATED ")
	assert.True(t, strings.HasPrefix(out, "hhh"))
	assert.True(t, strings.HasSuffix(out, "tttt"))

	// Head plus elided plus tail accounts for every character written.
	var elided int
	_, err := fmt.Sscanf(out[strings.Index(out, "[TRUNCATED"):], "[TRUNCATED %d CHARACTERS]", &elided)
	require.NoError(t, err)
	visible := len(out) - len(marker(elided))
	assert.Equal(t, 70, visible+elided)
}

func TestReporterNeverExceedsMax(t *testing.T) {
	for _, maxSize := range []int{1, 5, 30, 64, 100, 1000} {
		t.Run(fmt.Sprintf("max=%d", maxSize), func(t *testing.T) {
			r := New(maxSize)
			for i := 0; i < 200; i++ {
				_, _ = r.WriteString(fmt.Sprintf("line %d of diagnostic output\n", i))
				assert.LessOrEqual(t, len(r.ReportTruncated()), maxSize)
			}
			assert.True(t, r.Truncated())
		})
	}
}

func TestReporterReportOmitsTail(t *testing.T) {
	r := New(60)
	_, _ = r.WriteString(strings.Repeat("a", 60))
	_, _ = r.WriteString("END-OF-LOG")

	assert.Equal(t, strings.Repeat("a", 60), r.Report())
	assert.NotContains(t, r.Report(), "END")
	assert.True(t, strings.HasSuffix(r.ReportTruncated(), "END-OF-LOG"))
}

func TestReporterKeepsUTF8Valid(t *testing.T) {
	r := New(40)
	for i := 0; i < 30; i++ {
		_, _ = r.WriteString("čřž")
	}

	out := r.ReportTruncated()
	assert.True(t, utf8.ValidString(out))
	assert.True(t, utf8.ValidString(r.Report()))
	assert.LessOrEqual(t, len(out), 40)
}

func TestReporterIsWriter(t *testing.T) {
	r := New(0)
	var w io.Writer = r

	n, err := io.Copy(w, strings.NewReader("Stdout: hello\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(14), n)
	assert.Equal(t, "Stdout: hello\n", r.String())
	assert.Equal(t, DefaultMaxSize, r.maxSize)
}

func TestReporterHeadFreezesTailRolls(t *testing.T) {
	r := New(100)
	_, _ = r.WriteString(strings.Repeat("h", 100))
	_, _ = r.WriteString(strings.Repeat("x", 80))
	_, _ = r.WriteString(strings.Repeat("y", 30))
	_, _ = r.WriteString(strings.Repeat("z", 20))

	assert.Equal(t, strings.Repeat("h", 100), r.head, "the head stops growing at the cap")
	assert.Equal(t, strings.Repeat("y", 30)+strings.Repeat("z", 20), r.tail, "the tail keeps the newest maxSize/2 bytes")

	out := r.ReportTruncated()
	assert.True(t, strings.HasPrefix(out, "hhh"))
	assert.True(t, strings.HasSuffix(out, "zzz"))
	assert.NotContains(t, out, "x")
}

package buildver

import (
	"math/rand"
	"reflect"
	"strings"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/qadash/internal/sheet"
)

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{name: "empty vs version", a: "", b: "1.0", want: false},
		{name: "both empty", a: "", b: "", want: false},
		{name: "both blank", a: "  ", b: "\t", want: false},
		{name: "exact", a: "RC 1.0", b: "RC 1.0", want: true},
		{name: "exact after trim", a: " 1.2 ", b: "1.2", want: true},
		{name: "case-insensitive", a: "Build A", b: "build a", want: true},
		{name: "prefixes and trailing zeros", a: "RC 1.0.0", b: "Build 1", want: true},
		{name: "v prefix vs padded", a: "v2.1", b: "2.1.0", want: true},
		{name: "different minor", a: "1.2", b: "1.3", want: false},
		{name: "version word prefix", a: "Version 3.4", b: "3.4.0", want: true},
		{name: "ver with colon", a: "ver: 5", b: "v5.0", want: true},
		{name: "rc without separator", a: "rc2", b: "2", want: true},
		{name: "dash separator", a: "build-7.1", b: "7.1", want: true},
		{name: "cleaned text case-insensitive", a: "RC alpha", b: "build ALPHA", want: true},
		{name: "middle zero significant", a: "1.0.1", b: "1.1", want: false},
		{name: "leading zeros ignored", a: "1.01", b: "1.1", want: true},
		{name: "all zeros", a: "0", b: "0.0.0", want: true},
		{name: "different lengths", a: "1.2.3", b: "1.2", want: false},
		{name: "empty segment never matches", a: "1..2", b: "1.0.2", want: false},
		{name: "trailing dot", a: "1.", b: "1", want: false},
		{name: "only one prefix stripped", a: "RC RC 1.0", b: "1.0", want: false},
		{name: "non-initial prefix kept", a: "1.0 RC", b: "1.0", want: false},
		{name: "bare prefixes match", a: "v", b: "rc", want: true},
		{name: "bare prefix words match", a: "Build", b: "Version", want: true},
		{name: "bare prefixes with separators", a: "RC:", b: "v.", want: true},
		{name: "bare prefix vs version", a: "v", b: "1.0", want: false},
		{name: "huge numbers compare exactly", a: "123456789012345678901234567890", b: "v123456789012345678901234567890.0", want: true},
		{name: "huge numbers differ", a: "123456789012345678901234567890", b: "123456789012345678901234567891", want: false},
		{name: "unrelated text", a: "Sprint 4", b: "Sprint 5", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b), "Equal(%q, %q)", tt.a, tt.b)
			assert.Equal(t, tt.want, Equal(tt.b, tt.a), "Equal(%q, %q)", tt.b, tt.a)
		})
	}
}

func TestMatch_StrategyOrder(t *testing.T) {
	tests := []struct {
		a, b     string
		strategy string
	}{
		{a: "1.0", b: "1.0", strategy: "exact"},
		{a: "Build A", b: "BUILD A", strategy: "case-insensitive"},
		{a: "RC 1.0", b: "1.0", strategy: "prefix-cleaned"},
		{a: "RC 1.0", b: "Build 1", strategy: "version-segments"},
	}

	for _, tt := range tests {
		name, ok := Match(tt.a, tt.b)
		require.True(t, ok, "Match(%q, %q)", tt.a, tt.b)
		assert.Equal(t, tt.strategy, name, "Match(%q, %q)", tt.a, tt.b)
	}

	_, ok := Match("1.2", "1.3")
	assert.False(t, ok)
}

func TestStrategies(t *testing.T) {
	assert.True(t, Exact.Match("a", "a"))
	assert.False(t, Exact.Match("a", "A"))

	assert.True(t, CaseInsensitive.Match("RC", "rc"))

	assert.True(t, PrefixCleaned.Match("v1.0", "Build 1.0"))
	assert.False(t, PrefixCleaned.Match("v1.0", "1"))
	assert.True(t, PrefixCleaned.Match("Build", "Version"))

	assert.True(t, VersionSegments.Match("1.0", "v1"))
	assert.False(t, VersionSegments.Match("1.x", "1"))
}

func TestChain_Custom(t *testing.T) {
	strict := Chain{Exact}
	assert.True(t, strict.Equal("1.0", "1.0"))
	assert.False(t, strict.Equal("1.0", "1"))
	assert.False(t, strict.Equal("", ""))
}

func TestCleanPrefix(t *testing.T) {
	tests := map[string]string{
		"RC 1.0":        "1.0",
		"Build: 2":      "2",
		"v.3":           "3",
		"Version - 4.1": "4.1",
		"VER5":          "5",
		"Version 2":     "2",
		"v":             "",
		"RC Build 1.0":  "Build 1.0",
		"1.0":           "1.0",
		"  build   9  ": "9",
		"release 1.0":   "release 1.0",
	}
	for in, want := range tests {
		assert.Equal(t, want, CleanPrefix(in), "CleanPrefix(%q)", in)
	}
}

func TestSegments(t *testing.T) {
	segs, ok := Segments("1.2.0")
	require.True(t, ok)
	assert.Equal(t, []string{"1", "2"}, segs)

	segs, ok = Segments("1.0.0")
	require.True(t, ok)
	assert.Equal(t, []string{"1"}, segs)

	segs, ok = Segments("0.0")
	require.True(t, ok)
	assert.Empty(t, segs)

	_, ok = Segments("1.a")
	assert.False(t, ok)

	_, ok = Segments("")
	assert.False(t, ok)
}

func TestEqualCells(t *testing.T) {
	assert.True(t, EqualCells(sheet.NumberCell(2), sheet.TextCell("v2")))
	assert.True(t, EqualCells(sheet.NumberCell(1.5), sheet.TextCell("1.5.0")))
	assert.False(t, EqualCells(sheet.TextCell(""), sheet.NumberCell(0)))
}

// labelTokens are the building blocks for generated build labels.
var labelTokens = []string{
	"", " ", "rc", "RC ", "v", "V", "ver", "Version ", "build", "Build:", "-", ".", ":",
	"0", "1", "2", "10", "00", "a", "A", "beta",
}

func randomLabel(r *rand.Rand) string {
	var b strings.Builder
	for i := r.Intn(6); i >= 0; i-- {
		b.WriteString(labelTokens[r.Intn(len(labelTokens))])
	}
	return b.String()
}

func TestEqual_Symmetric(t *testing.T) {
	symmetric := func(a, b string) bool {
		return Equal(a, b) == Equal(b, a)
	}

	// Arbitrary strings.
	require.NoError(t, quick.Check(symmetric, &quick.Config{MaxCount: 2000}))

	// Label-shaped strings hit the prefix and segment strategies.
	cfg := &quick.Config{
		MaxCount: 5000,
		Values: func(args []reflect.Value, r *rand.Rand) {
			args[0] = reflect.ValueOf(randomLabel(r))
			args[1] = reflect.ValueOf(randomLabel(r))
		},
	}
	require.NoError(t, quick.Check(symmetric, cfg))
}

func TestEqual_Reflexive(t *testing.T) {
	reflexive := func(a string) bool {
		if strings.TrimSpace(a) == "" {
			return !Equal(a, a)
		}
		return Equal(a, a)
	}
	require.NoError(t, quick.Check(reflexive, nil))
}

func TestEqual_FilterScenario(t *testing.T) {
	table := sheet.Parse("Build,Platform,Passed,Failed\n\"RC 1.0\",iOS,10,2\nRC 1.0.0,Android,8,1\n")

	var matched int
	for _, row := range table.Rows {
		if Equal(row["Build"].String(), "1.0.0") {
			matched++
		}
	}
	assert.Equal(t, 2, matched)
}

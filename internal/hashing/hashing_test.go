package hashing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSumMatchesSumBytes(t *testing.T) {
	data := []byte("chain of custody")
	streamed, err := Sum(strings.NewReader(string(data)))
	require.NoError(t, err)
	require.Equal(t, SumBytes(data), streamed)
	require.Len(t, streamed, DigestLength)
}

func TestNormalize(t *testing.T) {
	require.Equal(t, "abc123", Normalize("  ABC123 "))
}

func TestValid(t *testing.T) {
	cases := []struct {
		digest string
		want   bool
	}{
		{SumBytes([]byte("x")), true},
		{"abc123", true},
		{"", false},
		{"abc", false},                    // odd length
		{"zz12", false},                   // not hex
		{strings.Repeat("ab", 40), false}, // longer than SHA-256
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Valid(tc.digest), "digest %q", tc.digest)
	}
}

package observability

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestPreviewTruncatesByRune(t *testing.T) {
	require.Equal(t, "short", Preview("  short  ", 10))
	require.Equal(t, "abcd...", Preview("abcdefghij", 7))

	cyrillic := Preview("Здравствуйте, где мой заказ?", 10)
	require.True(t, utf8.ValidString(cyrillic))
	require.Equal(t, "Здравст...", cyrillic)

	require.Equal(t, "日本", Preview("日本語のテキスト", 2))
	require.Equal(t, "привет", Preview("привет", 6))
}

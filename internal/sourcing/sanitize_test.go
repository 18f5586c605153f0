package sourcing

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "Red Apple Juice", want: "Red_Apple_Juice"},
		{name: "punctuation stripped", in: "Apple Juice, 1L (Pack/6)!", want: "Apple_Juice_1L_Pack6"},
		{name: "whitespace collapsed", in: "  a \t\n b  ", want: "a_b"},
		{name: "hyphen and underscore kept", in: "x-y_z", want: "x-y_z"},
		{name: "unicode letters kept", in: "Café Crème", want: "Café_Crème"},
		{name: "only symbols", in: "!!!***", want: ""},
		{name: "empty", in: "", want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, SanitizeFilename(tc.in))
		})
	}
}

func TestSanitizeFilenameTruncates(t *testing.T) {
	t.Parallel()

	got := SanitizeFilename(strings.Repeat("ab ", 80))
	require.LessOrEqual(t, utf8.RuneCountInString(got), 100)
	require.False(t, strings.HasSuffix(got, "_"))
	require.Regexp(t, `^[\p{L}\p{N}_-]+$`, got)
}

func TestSanitizeFilenameIsStable(t *testing.T) {
	t.Parallel()

	in := "Nike Air Max 270 (Men's) - Black/White"
	require.Equal(t, SanitizeFilename(in), SanitizeFilename(in))
	require.Equal(t, SanitizeFilename(in), SanitizeFilename(SanitizeFilename(in)))
}

func TestBaseName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Apple_Juice", BaseName("Apple Juice", "SKU1"))
	require.Equal(t, "SKU-1", BaseName("", "SKU-1"))
	require.Equal(t, "SKU1", BaseName("???", "SKU/1"))
	require.Equal(t, "item", BaseName("", "///"))
}

func TestExtensionFor(t *testing.T) {
	t.Parallel()

	require.Equal(t, ".png", ExtensionFor("https://cdn.example.com/a/b.PNG?x=1", "image/jpeg"))
	require.Equal(t, ".jpg", ExtensionFor("https://cdn.example.com/a/b.jpeg", ""))
	require.Equal(t, ".webp", ExtensionFor("https://cdn.example.com/render", "image/webp; charset=binary"))
	require.Equal(t, ".jpg", ExtensionFor("https://cdn.example.com/file.php", "text/html"))
	require.Equal(t, ".jpg", ExtensionFor("::not a url", ""))
}

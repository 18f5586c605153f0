package sourcing

import (
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxFilenameRunes bounds the sanitized base name.
const maxFilenameRunes = 100

// DefaultExtension is used when neither the URL nor the content type reveal one.
const DefaultExtension = ".jpg"

var (
	disallowedFilenameRunes = regexp.MustCompile(`[^\p{L}\p{N}_\s-]+`)
	whitespaceRun           = regexp.MustCompile(`\s+`)
)

// ImageExtensions lists the extensions recognised as images, in lookup order.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif"}

// SanitizeFilename maps arbitrary text to a safe file base name containing only
// word characters, underscores and hyphens. It returns "" for blank input.
func SanitizeFilename(text string) string {
	cleaned := disallowedFilenameRunes.ReplaceAllString(text, "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return ""
	}
	cleaned = whitespaceRun.ReplaceAllString(cleaned, "_")
	if utf8.RuneCountInString(cleaned) > maxFilenameRunes {
		cleaned = string([]rune(cleaned)[:maxFilenameRunes])
	}
	return strings.TrimRight(cleaned, "_")
}

// BaseName returns the sanitized product name, falling back to the sanitized SKU.
func BaseName(name, sku string) string {
	if base := SanitizeFilename(name); base != "" {
		return base
	}
	if base := SanitizeFilename(sku); base != "" {
		return base
	}
	return "item"
}

// ExtensionFor picks the file extension for a downloaded image: the URL path's
// extension when it is a known image type, then the content type, then .jpg.
func ExtensionFor(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := normalizeExt(path.Ext(u.Path)); ext != "" {
			return ext
		}
	}
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			switch mediaType {
			case "image/jpeg", "image/jpg", "image/pjpeg":
				return ".jpg"
			case "image/png":
				return ".png"
			case "image/webp":
				return ".webp"
			case "image/gif":
				return ".gif"
			}
		}
	}
	return DefaultExtension
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext == ".jpeg" {
		return ".jpg"
	}
	for _, known := range ImageExtensions {
		if ext == known {
			return ext
		}
	}
	return ""
}

package export

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	maxNameRunes = 180
	maxStemRunes = 160
	maxExtRunes  = 20
)

// SafeFilename makes a chat-supplied name safe to use as a Drive file name.
// Path separators and non-printable characters become "_", and names longer
// than 180 characters keep 160 characters of stem and 20 of extension.
func SafeFilename(name, fallback string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = fallback
	}
	name = norm.NFC.String(name)

	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case r == '\r' || r == '\n' || r == '\t' || !unicode.IsPrint(r):
			return '_'
		}
		return r
	}, name)

	if utf8.RuneCountInString(name) <= maxNameRunes {
		return name
	}
	ext := filepath.Ext(name)
	if ext == name {
		ext = ""
	}
	stem := strings.TrimSuffix(name, ext)
	return truncateRunes(stem, maxStemRunes) + truncateRunes(ext, maxExtRunes)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// FolderName is the Drive folder used for a group's uploads.
func FolderName(prefix, groupID string) string {
	return prefix + " - " + groupID
}

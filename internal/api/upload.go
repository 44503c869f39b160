package api

import (
	"path/filepath"
	"strings"
	"unicode"
)

func (s *Server) allowedFile(name string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" {
		return false
	}
	_, ok := s.allowed[ext]
	return ok
}

// validStoredName accepts names that secureFilename leaves untouched and that
// carry an allowed extension, which keeps request paths inside the upload dir.
func (s *Server) validStoredName(name string) bool {
	return name != "" && secureFilename(name) == name && s.allowedFile(name)
}

// secureFilename reduces a client supplied name to a flat ASCII file name.
// Path separators become underscores, anything outside [A-Za-z0-9._-] is
// dropped, and leading dots are stripped. The result may be empty.
func secureFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r == '/' || unicode.IsSpace(r):
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		case r <= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '_'):
			b.WriteRune(r)
			lastUnderscore = r == '_'
		}
	}

	return strings.Trim(b.String(), "._")
}

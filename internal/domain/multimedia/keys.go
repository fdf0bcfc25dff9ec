package multimedia

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxFilenameLen = 100

// SanitizeFilename keeps [A-Za-z0-9._-] of the base name, replaces the
// rest with '_' and caps the length.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if len(out) > maxFilenameLen {
		out = out[len(out)-maxFilenameLen:]
	}
	if out == "" {
		return "upload"
	}
	return out
}

func StagingKey(filename string) string {
	return fmt.Sprintf("staging/%s-%s", uuid.NewString(), SanitizeFilename(filename))
}

// FinalKey names the transcoded artifact. ext replaces the original extension.
func FinalKey(owner, id uuid.UUID, filename, ext string, now time.Time) string {
	return fmt.Sprintf("final/%s/%s/%d-%s%s", owner, id, now.UnixNano(), baseName(filename), ext)
}

func ThumbnailKey(owner, id uuid.UUID, filename string, now time.Time) string {
	return fmt.Sprintf("thumbs/%s/%s/%d-%s.jpg", owner, id, now.UnixNano(), baseName(filename))
}

// baseName strips the staging prefix and the extension of a staging key.
func baseName(stagingKey string) string {
	base := path.Base(stagingKey)
	if len(base) > 37 && base[36] == '-' {
		if _, err := uuid.Parse(base[:36]); err == nil {
			base = base[37:]
		}
	}
	base = strings.TrimSuffix(base, path.Ext(base))
	if base == "" {
		return "media"
	}
	return base
}

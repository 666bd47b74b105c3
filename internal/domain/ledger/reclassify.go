package ledger

import (
	"strings"
	"time"
)

// Reclassify sets a single record's ImageClass and UpdatedAt. Counts and every
// other record are untouched. When filename is not recorded it returns
// ErrNotFound and the input ledger is left as it was.
func Reclassify(l *Ledger, filename string, class ImageClass, now time.Time) (*Ledger, error) {
	name := CleanFilename(filename)
	if !l.Has(name) {
		return nil, ErrNotFound
	}

	out := l.Clone()
	rec := out.Files[name]
	rec.ImageClass = class.String()
	updated := now
	rec.UpdatedAt = &updated
	out.Files[name] = rec
	return out, nil
}

// CleanFilename drops any URL query suffix, as clients echo back signed URLs.
func CleanFilename(name string) string {
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}
	return name
}

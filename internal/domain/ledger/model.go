package ledger

import (
	"sort"
	"strings"
	"time"
)

// DefaultTTL is the inactivity window after which a session expires.
const DefaultTTL = 900 * time.Second

// ImageClass is the closed set of scene labels a reviewer can assign.
type ImageClass string

const (
	ClassFeeding ImageClass = "feeding"
	ClassResting ImageClass = "resting"
)

// ParseImageClass accepts a label in any letter case.
func ParseImageClass(s string) (ImageClass, error) {
	switch ImageClass(strings.ToLower(strings.TrimSpace(s))) {
	case ClassFeeding:
		return ClassFeeding, nil
	case ClassResting:
		return ClassResting, nil
	default:
		return "", ErrInvalidClass
	}
}

// Opposite returns the other member of the closed set.
func (c ImageClass) Opposite() ImageClass {
	if c == ClassFeeding {
		return ClassResting
	}
	return ClassFeeding
}

func (c ImageClass) String() string {
	return string(c)
}

// FileRecord is the persisted result for one image in a session.
type FileRecord struct {
	Filename    string     `json:"filename"`
	Path        string     `json:"path"`
	DugongCount int        `json:"dugongCount"`
	CalfCount   int        `json:"calfCount"`
	TotalCount  int        `json:"totalCount"`
	ImageClass  string     `json:"imageClass"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

// Ledger is the per-session record of processed images keyed by filename.
type Ledger struct {
	SessionID    string
	CreatedAt    time.Time
	LastActivity time.Time
	FileCount    int
	Files        map[string]FileRecord
}

// SortedFiles returns the records ordered by filename.
func (l *Ledger) SortedFiles() []FileRecord {
	files := make([]FileRecord, 0, len(l.Files))
	for _, f := range l.Files {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Filename < files[j].Filename
	})
	return files
}

// Has reports whether filename is recorded.
func (l *Ledger) Has(filename string) bool {
	if l == nil {
		return false
	}
	_, ok := l.Files[filename]
	return ok
}

// Clone returns a deep copy.
func (l *Ledger) Clone() *Ledger {
	if l == nil {
		return nil
	}
	out := *l
	out.Files = make(map[string]FileRecord, len(l.Files))
	for name, rec := range l.Files {
		if rec.UpdatedAt != nil {
			t := *rec.UpdatedAt
			rec.UpdatedAt = &t
		}
		out.Files[name] = rec
	}
	return &out
}

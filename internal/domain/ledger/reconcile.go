package ledger

import (
	"time"

	"github.com/rpggio/dugongwatch/internal/domain/detection"
)

// PathFunc maps a filename to its stored image path.
type PathFunc func(filename string) string

// Merge folds a batch of pipeline results into a ledger by filename.
//
// A result overwrites any existing record with the same filename as a whole;
// records absent from the batch are kept unchanged and new filenames are added.
// SessionID and CreatedAt carry over from existing when present. LastActivity is
// set to now and FileCount recomputed. existing is not modified, and merging the
// same batch twice yields the same files as merging it once.
func Merge(existing *Ledger, results []detection.Result, sessionID string, pathFor PathFunc, now time.Time) *Ledger {
	var out *Ledger
	if existing != nil {
		out = existing.Clone()
		if out.Files == nil {
			out.Files = make(map[string]FileRecord, len(results))
		}
	} else {
		out = &Ledger{
			SessionID: sessionID,
			CreatedAt: now,
			Files:     make(map[string]FileRecord, len(results)),
		}
	}

	for _, res := range results {
		out.Files[res.Filename] = recordFromResult(res, pathFor)
	}

	out.LastActivity = now
	out.FileCount = len(out.Files)
	return out
}

func recordFromResult(res detection.Result, pathFor PathFunc) FileRecord {
	path := res.Filename
	if pathFor != nil {
		path = pathFor(res.Filename)
	}
	return FileRecord{
		Filename:    res.Filename,
		Path:        path,
		DugongCount: res.DugongCount,
		CalfCount:   res.CalfCount,
		TotalCount:  detection.TotalCount(res.DugongCount, res.CalfCount),
		ImageClass:  res.ImageClass,
		CreatedAt:   res.CreatedAt,
	}
}

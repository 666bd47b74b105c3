package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rpggio/dugongwatch/internal/domain/detection"
)

type ledgerDoc struct {
	SessionID    string       `json:"sessionId"`
	CreatedAt    time.Time    `json:"createdAt"`
	LastActivity time.Time    `json:"lastActivity"`
	FileCount    int          `json:"fileCount"`
	Files        []FileRecord `json:"files"`
}

// Encode serializes a ledger with files ordered by filename.
func Encode(l *Ledger) ([]byte, error) {
	if l == nil {
		return nil, errors.New("encode ledger: nil ledger")
	}
	files := l.SortedFiles()
	doc := ledgerDoc{
		SessionID:    l.SessionID,
		CreatedAt:    l.CreatedAt.UTC(),
		LastActivity: l.LastActivity.UTC(),
		FileCount:    len(files),
		Files:        files,
	}
	for i := range doc.Files {
		doc.Files[i].CreatedAt = doc.Files[i].CreatedAt.UTC()
		if u := doc.Files[i].UpdatedAt; u != nil {
			t := u.UTC()
			doc.Files[i].UpdatedAt = &t
		}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode ledger: %w", err)
	}
	return data, nil
}

// Decode parses a serialized ledger. Stored counts are not trusted:
// FileCount and every TotalCount are recomputed.
func Decode(data []byte) (*Ledger, error) {
	doc, err := parseDoc(data)
	if err != nil {
		return nil, err
	}

	l := newFromDoc(doc)
	for _, rec := range doc.Files {
		if err := checkRecord(rec); err != nil {
			return nil, err
		}
		if _, dup := l.Files[rec.Filename]; dup {
			return nil, fmt.Errorf("%w: duplicate filename %q", ErrCorruptLedger, rec.Filename)
		}
		l.Files[rec.Filename] = normalize(rec)
	}
	l.FileCount = len(l.Files)
	return l, nil
}

// DecodeBestEffort salvages what it can from a damaged document. A clean
// document decodes exactly like Decode with a nil error. Otherwise the
// returned error wraps ErrCorruptLedger and describes what was dropped; the
// ledger is nil when nothing could be recovered.
func DecodeBestEffort(data []byte) (*Ledger, error) {
	if l, err := Decode(data); err == nil {
		return l, nil
	}

	doc, err := parseDoc(data)
	if err != nil {
		return nil, err
	}

	l := newFromDoc(doc)
	dropped := 0
	for _, rec := range doc.Files {
		if checkRecord(rec) != nil {
			dropped++
			continue
		}
		if _, dup := l.Files[rec.Filename]; dup {
			dropped++
		}
		l.Files[rec.Filename] = normalize(rec)
	}
	l.FileCount = len(l.Files)
	return l, fmt.Errorf("%w: recovered %d records, dropped %d", ErrCorruptLedger, len(l.Files), dropped)
}

func parseDoc(data []byte) (ledgerDoc, error) {
	var doc ledgerDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return ledgerDoc{}, fmt.Errorf("%w: %v", ErrCorruptLedger, err)
	}
	if doc.SessionID == "" {
		return ledgerDoc{}, fmt.Errorf("%w: missing sessionId", ErrCorruptLedger)
	}
	return doc, nil
}

func newFromDoc(doc ledgerDoc) *Ledger {
	return &Ledger{
		SessionID:    doc.SessionID,
		CreatedAt:    doc.CreatedAt,
		LastActivity: doc.LastActivity,
		Files:        make(map[string]FileRecord, len(doc.Files)),
	}
}

func checkRecord(rec FileRecord) error {
	if rec.Filename == "" {
		return fmt.Errorf("%w: record without filename", ErrCorruptLedger)
	}
	if rec.DugongCount < 0 || rec.CalfCount < 0 {
		return fmt.Errorf("%w: negative count for %q", ErrCorruptLedger, rec.Filename)
	}
	return nil
}

func normalize(rec FileRecord) FileRecord {
	rec.TotalCount = detection.TotalCount(rec.DugongCount, rec.CalfCount)
	return rec
}

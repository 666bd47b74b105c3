package survey

import (
	"path"
	"regexp"
	"strings"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidSessionID reports whether id is safe to use as a storage prefix.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id) && !strings.Contains(id, "..")
}

// ValidFilename reports whether name is a bare file name.
func ValidFilename(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, "/\\") && path.Base(name) == name
}

// ImageKey is where the uploaded image is stored.
func ImageKey(sessionID, filename string) string {
	return sessionID + "/images/" + filename
}

// ImagesPrefix lists a session's uploaded images.
func ImagesPrefix(sessionID string) string {
	return sessionID + "/images/"
}

// ResultKey is where the annotated image is stored.
func ResultKey(sessionID, filename string) string {
	return sessionID + "/results/" + filename
}

// LabelKey is where the YOLO label text is stored.
func LabelKey(sessionID, filename string) string {
	return sessionID + "/labels/" + strings.TrimSuffix(filename, path.Ext(filename)) + ".txt"
}

// FalsePositiveKey is where a reclassified image is moved.
func FalsePositiveKey(sessionID, class, filename string) string {
	return sessionID + "/false_positives/" + class + "/" + filename
}

// SessionPrefix covers every blob of a session.
func SessionPrefix(sessionID string) string {
	return sessionID + "/"
}

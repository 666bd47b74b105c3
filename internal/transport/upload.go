package transport

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/rpggio/dugongwatch/internal/domain/detection"
)

// UploadLimits constrains accepted image parts.
type UploadLimits struct {
	MaxFileSize       int64
	AllowedExtensions []string
	// MaxFiles bounds the number of parts in one request. Zero means no limit.
	MaxFiles int
}

// DefaultUploadLimits matches the survey camera output.
func DefaultUploadLimits() UploadLimits {
	return UploadLimits{
		MaxFileSize:       25 << 20,
		AllowedExtensions: []string{".jpg", ".jpeg", ".png"},
	}
}

const (
	uploadField    = "files"
	sessionIDField = "session_id"
	multipartMem   = 32 << 20
)

func (l UploadLimits) allowed(ext string) bool {
	ext = strings.ToLower(ext)
	for _, a := range l.AllowedExtensions {
		if strings.ToLower(a) == ext {
			return true
		}
	}
	return false
}

// parseUpload reads the "files" parts of a multipart request and enforces the
// limits. Any violation rejects the whole request.
func parseUpload(w http.ResponseWriter, r *http.Request, limits UploadLimits) ([]detection.Image, error) {
	if limits.MaxFileSize > 0 {
		maxFiles := int64(limits.MaxFiles)
		if maxFiles <= 0 {
			maxFiles = 64
		}
		r.Body = http.MaxBytesReader(w, r.Body, limits.MaxFileSize*maxFiles+(1<<20))
	}
	if err := r.ParseMultipartForm(multipartMem); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &ValidationError{Field: uploadField, Message: "request body too large"}
		}
		return nil, &ValidationError{Message: fmt.Sprintf("invalid multipart form: %v", err)}
	}

	headers := r.MultipartForm.File[uploadField]
	if len(headers) == 0 {
		return nil, &ValidationError{Field: uploadField, Message: "no files uploaded"}
	}
	if limits.MaxFiles > 0 && len(headers) > limits.MaxFiles {
		return nil, &ValidationError{Field: uploadField, Message: fmt.Sprintf("at most %d files per upload", limits.MaxFiles)}
	}

	images := make([]detection.Image, 0, len(headers))
	for _, fh := range headers {
		img, err := readPart(fh, limits)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

func readPart(fh *multipart.FileHeader, limits UploadLimits) (detection.Image, error) {
	name := filepath.Base(fh.Filename)
	if name == "." || name == "/" || name == "" {
		return detection.Image{}, &ValidationError{Field: uploadField, Message: "file without a name"}
	}
	if !limits.allowed(filepath.Ext(name)) {
		return detection.Image{}, &ValidationError{
			Field:   uploadField,
			Message: fmt.Sprintf("%s: extension not allowed, want one of %s", name, strings.Join(limits.AllowedExtensions, ", ")),
		}
	}
	if limits.MaxFileSize > 0 && fh.Size > limits.MaxFileSize {
		return detection.Image{}, &ValidationError{
			Field:   uploadField,
			Message: fmt.Sprintf("%s: file exceeds %d bytes", name, limits.MaxFileSize),
		}
	}

	f, err := fh.Open()
	if err != nil {
		return detection.Image{}, fmt.Errorf("opening %s: %w", name, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return detection.Image{}, fmt.Errorf("reading %s: %w", name, err)
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return detection.Image{}, &ValidationError{
			Field:   uploadField,
			Message: fmt.Sprintf("%s: content type %s is not an image", name, contentType),
		}
	}

	return detection.Image{Filename: name, Data: data, ContentType: contentType}, nil
}

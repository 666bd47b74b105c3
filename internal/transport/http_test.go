package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/rpggio/dugongwatch/internal/domain/activity"
	"github.com/rpggio/dugongwatch/internal/domain/detection"
	"github.com/rpggio/dugongwatch/internal/domain/ledger"
	"github.com/rpggio/dugongwatch/internal/domain/survey"
	"github.com/rpggio/dugongwatch/internal/export"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type stubService struct {
	uploadSession string
	uploaded      []detection.Image
	reclassified  [3]string
	activityLimit int

	err error
}

func (s *stubService) Upload(_ context.Context, sessionID string, images []detection.Image) (*survey.UploadResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	if sessionID == "" {
		sessionID = "generated"
	}
	s.uploadSession = sessionID
	s.uploaded = images
	l := &ledger.Ledger{SessionID: sessionID, Files: map[string]ledger.FileRecord{}}
	var files []ledger.FileRecord
	for _, img := range images {
		rec := ledger.FileRecord{Filename: img.Filename, ImageClass: "feeding", CreatedAt: t0}
		l.Files[img.Filename] = rec
		files = append(files, rec)
	}
	l.FileCount = len(l.Files)
	return &survey.UploadResult{SessionID: sessionID, Files: files, Ledger: l}, nil
}

func (s *stubService) Backfill(_ context.Context, sessionID string) (*survey.BackfillResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &survey.BackfillResult{SessionID: sessionID, Processed: 2, Files: []ledger.FileRecord{}}, nil
}

func (s *stubService) Reclassify(_ context.Context, sessionID, filename, newClass string) (*ledger.FileRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.reclassified = [3]string{sessionID, filename, newClass}
	return &ledger.FileRecord{Filename: filename, ImageClass: "resting", CreatedAt: t0}, nil
}

func (s *stubService) Get(_ context.Context, sessionID string) (*ledger.Ledger, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &ledger.Ledger{
		SessionID:    sessionID,
		CreatedAt:    t0,
		LastActivity: t0,
		FileCount:    1,
		Files: map[string]ledger.FileRecord{
			"a.jpg": {Filename: "a.jpg", Path: sessionID + "/images/a.jpg", DugongCount: 1, TotalCount: 1, ImageClass: "feeding", CreatedAt: t0},
		},
	}, nil
}

func (s *stubService) Status(_ context.Context, sessionID string) (*survey.StatusResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &survey.StatusResult{
		SessionID:    sessionID,
		LastActivity: t0,
		Liveness:     ledger.Liveness{RemainingSeconds: 890},
		FileCount:    0,
		Files:        []ledger.FileRecord{},
	}, nil
}

func (s *stubService) Export(ctx context.Context, sessionID string, w io.Writer) error {
	if s.err != nil {
		return s.err
	}
	l, _ := s.Get(ctx, sessionID)
	return export.WriteCSV(w, l)
}

func (s *stubService) Activity(_ context.Context, sessionID string, limit int) ([]activity.ActivityEntry, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.activityLimit = limit
	return []activity.ActivityEntry{{ID: 1, SessionID: sessionID, ActivityType: activity.TypeImagesProcessed, CreatedAt: t0}}, nil
}

func (s *stubService) Purge(_ context.Context, sessionID string) (*survey.PurgeResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &survey.PurgeResult{SessionID: sessionID, LedgerDeleted: true, BlobsDeleted: 3}, nil
}

type part struct {
	name        string
	contentType string
	data        []byte
}

func multipartBody(t *testing.T, fields map[string]string, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, p.name))
		if p.contentType != "" {
			h.Set("Content-Type", p.contentType)
		}
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func newTestServer(t *testing.T, svc SurveyService, opts Options) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(NewServer(svc, opts))
	t.Cleanup(server.Close)
	return server
}

func decodeError(t *testing.T, resp *http.Response) ErrorResponse {
	t.Helper()
	defer resp.Body.Close()
	var out ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHTTPServer_Health(t *testing.T) {
	server := newTestServer(t, &stubService{}, Options{AuthToken: "secret"})

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPServer_RequiresToken(t *testing.T) {
	server := newTestServer(t, &stubService{}, Options{AuthToken: "secret"})

	resp, err := http.Get(server.URL + "/api/sessions/s1/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/api/sessions/s1/status", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPServer_Upload(t *testing.T) {
	svc := &stubService{}
	server := newTestServer(t, svc, Options{})

	body, contentType := multipartBody(t, map[string]string{"session_id": "s1"},
		part{name: "a.png", contentType: "image/png", data: pngHeader},
		part{name: "b.PNG", data: pngHeader},
	)
	resp, err := http.Post(server.URL+"/api/sessions/uploads", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out uploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "s1", out.SessionID)
	require.Equal(t, 2, out.FileCount)
	require.Len(t, svc.uploaded, 2)
	require.Equal(t, "image/png", svc.uploaded[1].ContentType)
}

func TestHTTPServer_UploadPathSession(t *testing.T) {
	svc := &stubService{}
	server := newTestServer(t, svc, Options{})

	body, contentType := multipartBody(t, nil, part{name: "a.jpg", contentType: "image/jpeg", data: []byte("jpeg")})
	resp, err := http.Post(server.URL+"/api/sessions/flight-7/uploads", contentType, body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "flight-7", svc.uploadSession)
}

func TestHTTPServer_UploadValidation(t *testing.T) {
	cases := map[string]part{
		"extension":    {name: "notes.txt", contentType: "text/plain", data: []byte("hello")},
		"content type": {name: "a.jpg", contentType: "text/plain", data: []byte("hello")},
		"too large":    {name: "big.jpg", contentType: "image/jpeg", data: bytes.Repeat([]byte("x"), 2048)},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &stubService{}
			server := newTestServer(t, svc, Options{Upload: UploadLimits{
				MaxFileSize:       1024,
				AllowedExtensions: []string{".jpg", ".jpeg", ".png"},
			}})

			body, contentType := multipartBody(t, nil, p)
			resp, err := http.Post(server.URL+"/api/sessions/uploads", contentType, body)
			require.NoError(t, err)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			out := decodeError(t, resp)
			require.Equal(t, CodeValidation, out.Code)
			require.Equal(t, "files", out.Field)
			require.Nil(t, svc.uploaded)
		})
	}
}

func TestHTTPServer_UploadNoFiles(t *testing.T) {
	server := newTestServer(t, &stubService{}, Options{})

	body, contentType := multipartBody(t, map[string]string{"session_id": "s1"})
	resp, err := http.Post(server.URL+"/api/sessions/uploads", contentType, body)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestHTTPServer_Reclassify(t *testing.T) {
	svc := &stubService{}
	server := newTestServer(t, svc, Options{})

	resp, err := http.Post(server.URL+"/api/sessions/s1/reclassify", "application/json",
		strings.NewReader(`{"imageName":"a.jpg?v=2","newClass":"Resting"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, [3]string{"s1", "a.jpg?v=2", "Resting"}, svc.reclassified)

	var rec ledger.FileRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	require.Equal(t, "resting", rec.ImageClass)
}

func TestHTTPServer_ReclassifyValidation(t *testing.T) {
	cases := map[string]struct {
		body  string
		field string
	}{
		"missing image":  {body: `{"newClass":"feeding"}`, field: "imageName"},
		"bad class":      {body: `{"imageName":"a.jpg","newClass":"sleeping"}`, field: "newClass"},
		"unknown field":  {body: `{"imageName":"a.jpg","class":"feeding"}`},
		"older field":    {body: `{"imageName":"a.jpg","targetClass":"feeding"}`},
		"malformed json": {body: `{"imageName":`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &stubService{}
			server := newTestServer(t, svc, Options{})

			resp, err := http.Post(server.URL+"/api/sessions/s1/reclassify", "application/json", strings.NewReader(tc.body))
			require.NoError(t, err)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			out := decodeError(t, resp)
			require.Equal(t, CodeValidation, out.Code)
			require.Equal(t, tc.field, out.Field)
			require.Equal(t, [3]string{}, svc.reclassified)
		})
	}
}

func TestHTTPServer_ReclassifyFlipWithoutTarget(t *testing.T) {
	svc := &stubService{}
	server := newTestServer(t, svc, Options{})

	resp, err := http.Post(server.URL+"/api/sessions/s1/reclassify", "application/json", strings.NewReader(`{"imageName":"a.jpg"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "", svc.reclassified[2])
}

func TestHTTPServer_GetLedger(t *testing.T) {
	server := newTestServer(t, &stubService{}, Options{})

	resp, err := http.Get(server.URL + "/api/sessions/s1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	require.Equal(t, "s1", doc["sessionId"])
	require.EqualValues(t, 1, doc["fileCount"])
	require.Contains(t, doc["files"], "a.jpg")
}

func TestHTTPServer_Status(t *testing.T) {
	server := newTestServer(t, &stubService{}, Options{})

	resp, err := http.Get(server.URL + "/api/sessions/s1/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "s1", out.SessionID)
	require.Equal(t, 890, out.RemainingSeconds)
	require.False(t, out.IsExpired)
}

func TestHTTPServer_Export(t *testing.T) {
	server := newTestServer(t, &stubService{}, Options{})

	resp, err := http.Get(server.URL + "/api/sessions/s1/export.csv")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	require.Contains(t, resp.Header.Get("Content-Disposition"), "session_s1_metadata.csv")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(body), "CALFCOUNT,"))
	require.Contains(t, string(body), "a.jpg")
}

func TestHTTPServer_Activity(t *testing.T) {
	svc := &stubService{}
	server := newTestServer(t, svc, Options{})

	resp, err := http.Get(server.URL + "/api/sessions/s1/activity?limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 5, svc.activityLimit)

	resp2, err := http.Get(server.URL + "/api/sessions/s1/activity?limit=abc")
	require.NoError(t, err)
	resp2.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestHTTPServer_Purge(t *testing.T) {
	server := newTestServer(t, &stubService{}, Options{})

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/api/sessions/s1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out purgeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.True(t, out.LedgerDeleted)
	require.Equal(t, 3, out.BlobsDeleted)
}

func TestHTTPServer_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{survey.ErrSessionNotFound, http.StatusNotFound, CodeNotFound},
		{fmt.Errorf("%w: z.jpg", ledger.ErrNotFound), http.StatusNotFound, CodeNotFound},
		{export.ErrNoFiles, http.StatusNotFound, CodeNotFound},
		{fmt.Errorf("target: %w", ledger.ErrInvalidClass), http.StatusBadRequest, CodeValidation},
		{survey.ErrInvalidInput, http.StatusBadRequest, CodeValidation},
		{fmt.Errorf("session s1: %w", ledger.ErrCorruptLedger), http.StatusInternalServerError, CodeCorrupt},
		{&detection.InferenceError{Stage: detection.StageDetect, Err: fmt.Errorf("onnx")}, http.StatusBadGateway, CodeInference},
		{fmt.Errorf("disk full"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.code+"/"+tc.err.Error(), func(t *testing.T) {
			server := newTestServer(t, &stubService{err: tc.err}, Options{})

			resp, err := http.Get(server.URL + "/api/sessions/s1/status")
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
			out := decodeError(t, resp)
			require.Equal(t, tc.code, out.Code)
			require.NotEmpty(t, out.RequestID)
		})
	}
}

func TestHTTPServer_InternalErrorHidesDetail(t *testing.T) {
	server := newTestServer(t, &stubService{err: fmt.Errorf("disk full at /var/lib")}, Options{})

	resp, err := http.Get(server.URL + "/api/sessions/s1")
	require.NoError(t, err)
	out := decodeError(t, resp)
	require.Equal(t, "internal error", out.Error)
}

// Package testserver runs the full HTTP stack over in-memory storage and
// scripted models for end-to-end tests.
package testserver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/dugongwatch/internal/blob"
	"github.com/rpggio/dugongwatch/internal/domain/activity"
	"github.com/rpggio/dugongwatch/internal/domain/detection"
	"github.com/rpggio/dugongwatch/internal/domain/survey"
	"github.com/rpggio/dugongwatch/internal/mcp"
	"github.com/rpggio/dugongwatch/internal/sqlite"
	"github.com/rpggio/dugongwatch/internal/transport"
	"github.com/stretchr/testify/require"
)

// Models scripts detector and classifier output per filename.
type Models struct {
	mu      sync.Mutex
	boxes   map[string]detection.RawDetectionSet
	classes map[string]string
}

func newModels() *Models {
	return &Models{
		boxes:   make(map[string]detection.RawDetectionSet),
		classes: make(map[string]string),
	}
}

// SetBoxes fixes the raw detections returned for filename.
func (m *Models) SetBoxes(filename string, width, height int, boxes ...detection.BoundingBox) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boxes[filename] = detection.RawDetectionSet{Width: width, Height: height, Boxes: boxes}
}

// SetClass fixes the scene label returned for filename.
func (m *Models) SetClass(filename, class string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes[filename] = class
}

func (m *Models) Detect(_ context.Context, images []detection.Image) ([]detection.RawDetectionSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]detection.RawDetectionSet, len(images))
	for i, img := range images {
		set, ok := m.boxes[img.Filename]
		if !ok {
			set = detection.RawDetectionSet{Width: 640, Height: 480, Boxes: []detection.BoundingBox{}}
		}
		out[i] = set
	}
	return out, nil
}

func (m *Models) Classify(_ context.Context, img detection.Image) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if class, ok := m.classes[img.Filename]; ok {
		return class, nil
	}
	return "feeding", nil
}

func (m *Models) Annotate(_ context.Context, img detection.Image, _ detection.SuppressedDetectionSet) ([]byte, error) {
	return append([]byte("annotated:"), img.Data...), nil
}

// Clock is a settable time source shared by the service and pipeline.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// TestServer is a running server plus handles on its collaborators.
type TestServer struct {
	Server  *httptest.Server
	DB      *sqlite.DB
	Blobs   *blob.FSStore
	Survey  *survey.Service
	Hub     *transport.Hub
	Models  *Models
	Clock   *Clock
	Token   string
	BlobDir string
}

// New starts a server. An empty token disables auth.
func New(t *testing.T, token string) *TestServer {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := sqlite.New(dsn)
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())

	blobDir := t.TempDir()
	blobs, err := blob.NewFSStore(blobDir)
	require.NoError(t, err)

	clock := &Clock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	models := newModels()
	pipeline := detection.NewPipeline(detection.PipelineConfig{
		Detector:   models,
		Classifier: models,
		Annotator:  models,
		Workers:    2,
		Clock:      clock.Now,
	})

	hub := transport.NewHub(nil)
	svc := survey.NewService(survey.Dependencies{
		Ledgers:  sqlite.NewLedgerRepository(db),
		Blobs:    blobs,
		Pipeline: pipeline,
		Activity: activity.NewService(sqlite.NewActivityRepository(db), nil),
		Events:   hub,
	}, survey.Config{TTL: 900 * time.Second, Clock: clock.Now}, nil)

	mcpServer := mcp.NewServer(mcp.Config{Survey: svc, AuthToken: token, TransportMode: "http"})
	mcpHandler := sdkmcp.NewStreamableHTTPHandler(
		func(*http.Request) *sdkmcp.Server { return mcpServer },
		&sdkmcp.StreamableHTTPOptions{SessionTimeout: time.Minute},
	)

	server := httptest.NewServer(transport.NewServer(svc, transport.Options{
		AuthToken: token,
		MCP:       mcpHandler,
		Events:    hub,
	}))

	t.Cleanup(func() {
		server.Close()
		_ = db.Close()
	})

	return &TestServer{
		Server:  server,
		DB:      db,
		Blobs:   blobs,
		Survey:  svc,
		Hub:     hub,
		Models:  models,
		Clock:   clock,
		Token:   token,
		BlobDir: blobDir,
	}
}

// File is one multipart upload part.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// JPEG returns a part with a JPEG signature so content sniffing accepts it.
func JPEG(name string) File {
	return File{Name: name, ContentType: "image/jpeg", Data: []byte("\xff\xd8\xff\xe0" + name)}
}

// Do sends an authenticated request and returns the response.
func (ts *TestServer) Do(t *testing.T, method, path, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.Server.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if ts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.Token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// Upload posts files to the session, or to a new session when sessionID is empty.
func (ts *TestServer) Upload(t *testing.T, sessionID string, files ...File) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, f.Name))
		if f.ContentType != "" {
			h.Set("Content-Type", f.ContentType)
		}
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(f.Data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	path := "/api/sessions/uploads"
	if sessionID != "" {
		path = "/api/sessions/" + sessionID + "/uploads"
	}
	return ts.Do(t, http.MethodPost, path, mw.FormDataContentType(), &buf)
}

type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (b bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+b.token)
	return b.base.RoundTrip(req)
}

// MCPClient connects an MCP client session to /mcp.
func (ts *TestServer) MCPClient(t *testing.T) *sdkmcp.ClientSession {
	t.Helper()
	httpClient := &http.Client{Transport: bearerTransport{token: ts.Token, base: http.DefaultTransport}}
	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(context.Background(), &sdkmcp.StreamableClientTransport{
		Endpoint:   ts.Server.URL + "/mcp",
		HTTPClient: httpClient,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

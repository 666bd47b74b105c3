package mcp

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverInstructions = `dugongwatch keeps a ledger of dugong counts per aerial survey session.

Core concepts:
- Session: one survey flight, identified by session_id. Images are uploaded over HTTP.
- Ledger: one record per image filename with dugongCount, calfCount, totalCount (calves count double) and imageClass.
- imageClass: the scene label, either feeding or resting.
- Liveness: a session expires after a period without activity and is then purged with all its images.

Workflow:
1) Check a session with session_status before reviewing it; expired sessions cannot be recovered.
2) Use list_session_files to read counts and classes.
3) Correct a wrong scene label with reclassify_image. Omit new_class to flip the current label.
4) Use session_activity to see what happened to a session, newest first.
5) purge_session removes the ledger and every stored image. It cannot be undone.

Docs:
- dugongwatch://docs/ledger (record fields and counting rules)
- dugongwatch://docs/review (reclassification workflow)
`

type docResource struct {
	URI         string
	Name        string
	Title       string
	Description string
	Content     string
}

var docResources = []docResource{
	{
		URI:         "dugongwatch://docs/ledger",
		Name:        "docs_ledger",
		Title:       "Session ledger",
		Description: "Fields of a ledger record and how counts are derived.",
		Content: `# Session ledger

Each processed image has exactly one record, keyed by filename. Uploading the
same filename again replaces the record.

| Field | Meaning |
|---|---|
| filename | uploaded file name |
| path | storage key of the raw image |
| dugongCount | adult dugongs detected |
| calfCount | calves detected |
| totalCount | dugongCount + 2 * calfCount |
| imageClass | feeding or resting |
| createdAt | when the image was processed |
| updatedAt | when a reviewer last changed the record |

Overlapping detections are merged before counting. The overlap threshold
adapts to the typical animal size in each image, so close groups of small
animals are not merged together.

fileCount always equals the number of records.
`,
	},
	{
		URI:         "dugongwatch://docs/review",
		Name:        "docs_review",
		Title:       "Reviewing scene labels",
		Description: "How reclassification changes a record and its stored image.",
		Content: `# Reviewing scene labels

reclassify_image changes only imageClass and updatedAt of one record. Counts
are never touched.

- new_class set: the record takes that class.
- new_class omitted: feeding becomes resting and resting becomes feeding.
- image_name may carry a query string (for example a cache buster); it is ignored.

The raw image is moved to false_positives/<class>/ so it can be used to
retrain the scene classifier. A missing raw image does not fail the call.

Reclassifying also refreshes the session's liveness.
`,
	},
}

func registerDocResources(server *sdkmcp.Server) {
	for _, doc := range docResources {
		server.AddResource(&sdkmcp.Resource{
			URI:         doc.URI,
			Name:        doc.Name,
			Title:       doc.Title,
			Description: doc.Description,
			MIMEType:    "text/markdown",
			Size:        int64(len(doc.Content)),
		}, func(_ context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
			uri := doc.URI
			if req != nil && req.Params != nil && req.Params.URI != "" {
				uri = req.Params.URI
			}
			return &sdkmcp.ReadResourceResult{
				Contents: []*sdkmcp.ResourceContents{{
					URI:      uri,
					MIMEType: "text/markdown",
					Text:     doc.Content,
				}},
			}, nil
		})
	}
}

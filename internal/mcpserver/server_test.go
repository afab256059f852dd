package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/annostore/internal/models"
	"github.com/starford/annostore/internal/testutil"
)

const sample = "T1\tProtein 0 3\tp53\nT2\tProtein 8 12\tMDM2\nE1\tBinding:T1 Theme:T2\n"

func testServer(t *testing.T) (*Server, string) {
	t.Helper()
	root, svc := testutil.TestService(t, nil)
	return New(svc, "test"), root
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_documents":
		result, err = srv.listDocuments(ctx, req)
	case "read_annotations":
		result, err = srv.readAnnotations(ctx, req)
	case "add_annotation":
		result, err = srv.addAnnotation(ctx, req)
	case "delete_annotation":
		result, err = srv.deleteAnnotation(ctx, req)
	case "annotation_history":
		result, err = srv.history(ctx, req)
	case "get_format_contract":
		result, err = srv.getFormatContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestListDocuments(t *testing.T) {
	srv, root := testServer(t)
	testutil.WriteDoc(t, root, "corpus/a.ann", sample)
	testutil.WriteDoc(t, root, "corpus/b.a1", "")
	testutil.WriteDoc(t, root, "other.ann", "")

	r := callTool(t, srv, "list_documents", map[string]interface{}{})
	if r.IsError {
		t.Fatalf("unexpected error: %s", resultText(r))
	}
	if got := resultText(r); got != "corpus/a\ncorpus/b (read-only)\nother" {
		t.Errorf("list = %q", got)
	}

	r = callTool(t, srv, "list_documents", map[string]interface{}{"folder": "corpus/"})
	if strings.Contains(resultText(r), "other") {
		t.Errorf("folder filter ignored: %q", resultText(r))
	}

	r = callTool(t, srv, "list_documents", map[string]interface{}{"folder": "missing"})
	if resultText(r) != "no documents found" {
		t.Errorf("expected empty message, got %q", resultText(r))
	}
}

func TestReadAnnotations(t *testing.T) {
	srv, root := testServer(t)
	testutil.WriteDoc(t, root, "doc.ann", sample)

	r := callTool(t, srv, "read_annotations", map[string]interface{}{"document": "doc"})
	if r.IsError {
		t.Fatalf("unexpected error: %s", resultText(r))
	}
	var doc models.Document
	if err := json.Unmarshal([]byte(resultText(r)), &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Annotations) != 3 || doc.Annotations[2].ID != "E1" {
		t.Errorf("annotations = %+v", doc.Annotations)
	}

	r = callTool(t, srv, "read_annotations", map[string]interface{}{"document": "missing"})
	if !r.IsError {
		t.Error("expected error for missing document")
	}

	r = callTool(t, srv, "read_annotations", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected error for missing argument")
	}
}

func TestAddAnnotation(t *testing.T) {
	srv, root := testServer(t)
	testutil.WriteDoc(t, root, "doc.ann", sample)

	r := callTool(t, srv, "add_annotation", map[string]interface{}{
		"document": "doc",
		"line":     "M1\tNegation E1",
	})
	if r.IsError {
		t.Fatalf("unexpected error: %s", resultText(r))
	}

	r = callTool(t, srv, "add_annotation", map[string]interface{}{
		"document": "doc",
		"prefix":   "T",
		"rest":     "Gene 20 24\tBRCA",
	})
	if r.IsError {
		t.Fatalf("unexpected error: %s", resultText(r))
	}
	var a models.Annotation
	if err := json.Unmarshal([]byte(resultText(r)), &a); err != nil {
		t.Fatal(err)
	}
	if a.ID != "T3" {
		t.Errorf("allocated id = %s, want T3", a.ID)
	}

	want := sample + "M1\tNegation E1\nT3\tGene 20 24\tBRCA\n"
	if got := testutil.ReadDoc(t, root, "doc.ann"); got != want {
		t.Errorf("file = %q, want %q", got, want)
	}
}

func TestAddAnnotationErrors(t *testing.T) {
	srv, root := testServer(t)
	testutil.WriteDoc(t, root, "doc.ann", sample)

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"no line or prefix", map[string]interface{}{"document": "doc"}},
		{"both line and prefix", map[string]interface{}{"document": "doc", "line": "T9\tGene 0 1\tx", "prefix": "T", "rest": "x"}},
		{"duplicate", map[string]interface{}{"document": "doc", "line": "T1\tGene 0 1\tx"}},
		{"stale checksum", map[string]interface{}{"document": "doc", "line": "T9\tGene 0 1\tx", "if_match": "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := callTool(t, srv, "add_annotation", tt.args)
			if !r.IsError {
				t.Errorf("expected error, got %s", resultText(r))
			}
		})
	}
	if got := testutil.ReadDoc(t, root, "doc.ann"); got != sample {
		t.Errorf("file changed: %q", got)
	}
}

func TestDeleteAnnotation(t *testing.T) {
	srv, root := testServer(t)
	testutil.WriteDoc(t, root, "doc.ann", sample)

	r := callTool(t, srv, "delete_annotation", map[string]interface{}{"document": "doc", "id": "T1"})
	if !r.IsError {
		t.Fatal("expected delete of T1 to be refused")
	}
	if !strings.Contains(resultText(r), "delete E1 first") {
		t.Errorf("error = %q", resultText(r))
	}

	r = callTool(t, srv, "delete_annotation", map[string]interface{}{"document": "doc", "id": "E1"})
	if r.IsError {
		t.Fatalf("unexpected error: %s", resultText(r))
	}

	r = callTool(t, srv, "annotation_history", map[string]interface{}{"document": "doc"})
	var changes []models.Change
	if err := json.Unmarshal([]byte(resultText(r)), &changes); err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].Kind != "deleted" {
		t.Errorf("history = %+v", changes)
	}
}

func TestGetFormatContract(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "get_format_contract", map[string]interface{}{})
	if r.IsError {
		t.Fatalf("unexpected error: %s", resultText(r))
	}
	text := resultText(r)
	if !strings.Contains(text, "Annostore Line Format") {
		t.Error("contract should contain title")
	}
	if !strings.Contains(text, "Equiv T1 T2 T3") {
		t.Error("contract should describe equivalences")
	}
}

func TestFormatResource(t *testing.T) {
	srv, _ := testServer(t)

	contents, err := srv.readFormatResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 resource, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok || tc.URI != formatURI || tc.Text != LineFormatContract {
		t.Errorf("unexpected resource: %+v", contents[0])
	}
}

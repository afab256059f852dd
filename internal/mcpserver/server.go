// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes annostore tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/annostore/internal/apperr"
	"github.com/starford/annostore/internal/docservice"
)

const formatURI = "annostore://line-format"

// Server wraps the MCP server with annostore tools.
type Server struct {
	mcp *server.MCPServer
	svc *docservice.Service
}

// New creates a new MCP server with all annostore tools registered.
func New(svc *docservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"annostore",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List annotated documents in the data area."),
		mcp.WithString("folder", mcp.Description("Optional folder prefix to filter by (empty for all)")),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("read_annotations",
		mcp.WithDescription("Read every annotation of a document as JSON, in line order, "+
			"with the indices of lines that could not be parsed."),
		mcp.WithString("document", mcp.Required(), mcp.Description("Document reference without suffix (e.g. corpus/doc1)")),
	), s.readAnnotations)

	s.mcp.AddTool(mcp.NewTool("add_annotation",
		mcp.WithDescription("Add one annotation to a document. Pass either a complete line, or a prefix "+
			"and the rest of the line to have the next free id allocated. Lines MUST follow the "+
			"format contract; read it first via get_format_contract or the "+formatURI+" resource."),
		mcp.WithString("document", mcp.Required(), mcp.Description("Document reference without suffix")),
		mcp.WithString("line", mcp.Description("Complete annotation line, fields separated by tabs")),
		mcp.WithString("prefix", mcp.Description("Id prefix for a new annotation: T, E, M, A or #")),
		mcp.WithString("rest", mcp.Description("Line content after the id and its tab")),
		mcp.WithString("if_match", mcp.Description("Optional document checksum from read_annotations")),
	), s.addAnnotation)

	s.mcp.AddTool(mcp.NewTool("delete_annotation",
		mcp.WithDescription("Delete an annotation by id. Modifiers and notes attached to it are removed "+
			"with it; deletion is refused while events or relations still reference it."),
		mcp.WithString("document", mcp.Required(), mcp.Description("Document reference without suffix")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Annotation id, e.g. T3")),
		mcp.WithString("if_match", mcp.Description("Optional document checksum from read_annotations")),
	), s.deleteAnnotation)

	s.mcp.AddTool(mcp.NewTool("annotation_history",
		mcp.WithDescription("List the most recent committed changes of a document, newest first."),
		mcp.WithString("document", mcp.Required(), mcp.Description("Document reference without suffix")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of changes (default 20)")),
	), s.history)

	s.mcp.AddTool(mcp.NewTool("get_format_contract",
		mcp.WithDescription("Returns the annotation line format contract. "+
			"Call this before adding annotations to ensure correct structure."),
	), s.getFormatContract)

	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Annotation Line Format",
			mcp.WithResourceDescription("Stand-off annotation line format accepted by annostore."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// toolError renders err for the model, listing blockers of a refused delete.
func toolError(err error) *mcp.CallToolResult {
	var dep *apperr.DependingAnnotationError
	if errors.As(err, &dep) {
		return mcp.NewToolResultError(fmt.Sprintf("cannot delete %s: delete %s first", dep.Target, strings.Join(dep.Dependents, ", ")))
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folder := strings.Trim(req.GetString("folder", ""), "/")

	docs, err := s.svc.ListDocuments(ctx)
	if err != nil {
		return toolError(err), nil
	}
	var refs []string
	for _, d := range docs {
		if folder != "" && !strings.HasPrefix(d.Ref, folder+"/") {
			continue
		}
		ref := d.Ref
		if d.ReadOnly {
			ref += " (read-only)"
		}
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		return mcp.NewToolResultText("no documents found"), nil
	}
	return mcp.NewToolResultText(strings.Join(refs, "\n")), nil
}

func (s *Server) readAnnotations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := req.RequireString("document")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.svc.GetDocument(ctx, doc)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(d)
}

func (s *Server) addAnnotation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := req.RequireString("document")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	line := req.GetString("line", "")
	prefix := req.GetString("prefix", "")
	rest := req.GetString("rest", "")
	ifMatch := req.GetString("if_match", "")

	switch {
	case line != "" && prefix == "":
		a, err := s.svc.AddAnnotation(ctx, doc, line, ifMatch)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(a)
	case line == "" && prefix != "" && rest != "":
		a, err := s.svc.CreateAnnotation(ctx, doc, prefix, rest, ifMatch)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(a)
	}
	return mcp.NewToolResultError("pass either line, or prefix and rest"), nil
}

func (s *Server) deleteAnnotation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := req.RequireString("document")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	changes, err := s.svc.DeleteAnnotation(ctx, doc, id, req.GetString("if_match", ""))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(changes)
}

func (s *Server) history(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := req.RequireString("document")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	changes, err := s.svc.History(ctx, doc, req.GetInt("limit", 20))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(changes)
}

func (s *Server) getFormatContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(LineFormatContract), nil
}

func (s *Server) readFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     LineFormatContract,
		},
	}, nil
}

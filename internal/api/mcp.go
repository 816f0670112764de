package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/threadmark/internal/domain"
	"github.com/kalambet/threadmark/internal/export"
	"github.com/kalambet/threadmark/internal/facade"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Facade *facade.Facade
	Writes sync.Locker // shared with the HTTP API; nil gets a private mutex
}

// NewMCPServer creates an MCP server with the annotation tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Writes == nil {
		deps.Writes = &sync.Mutex{}
	}

	s := server.NewMCPServer(
		"threadmark",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("threadmark stores chatbot conversation threads and the good/bad annotations reviewers attach to them."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_threads",
			mcp.WithDescription("List stored threads with their annotation counts."),
			mcp.WithString("filter", mcp.Description("all, annotated or unannotated (default all)"), mcp.Enum("all", "annotated", "unannotated")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of threads (default 50)")),
		),
		mcpListThreads(deps),
	)

	s.AddTool(
		mcp.NewTool("get_thread",
			mcp.WithDescription("Return one thread with its messages and annotations."),
			mcp.WithString("id", mcp.Description("Thread id"), mcp.Required()),
		),
		mcpGetThread(deps),
	)

	s.AddTool(
		mcp.NewTool("rate_thread",
			mcp.WithDescription("Append a good or bad annotation to a thread."),
			mcp.WithString("id", mcp.Description("Thread id"), mcp.Required()),
			mcp.WithString("rating", mcp.Description("good or bad"), mcp.Required(), mcp.Enum("good", "bad")),
			mcp.WithString("notes", mcp.Description("Free-text reviewer notes")),
			mcp.WithArray("tags", mcp.Description("Optional tags")),
		),
		mcpRateThread(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_annotation",
			mcp.WithDescription("Remove the annotation at a zero-based index from a thread."),
			mcp.WithString("id", mcp.Description("Thread id"), mcp.Required()),
			mcp.WithNumber("index", mcp.Description("Zero-based annotation index"), mcp.Required()),
		),
		mcpDeleteAnnotation(deps),
	)

	s.AddTool(
		mcp.NewTool("annotation_report",
			mcp.WithDescription("Summarize annotations across all threads, or export them as CSV."),
			mcp.WithString("format", mcp.Description("summary or csv (default summary)"), mcp.Enum("summary", "csv")),
		),
		mcpAnnotationReport(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"threads://annotated",
			"Annotated Threads",
			mcp.WithResourceDescription("Every thread that carries at least one annotation"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceAnnotated(deps),
	)

	return s
}

type threadSummary struct {
	ID          string           `json:"id"`
	Title       string           `json:"title,omitempty"`
	Messages    int              `json:"messages"`
	Annotations int              `json:"annotations"`
	UpdatedAt   domain.Timestamp `json:"updatedAt"`
}

func mcpListThreads(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filter := req.GetString("filter", "all")
		limit := req.GetInt("limit", 50)
		if limit <= 0 {
			limit = 50
		}

		results := []threadSummary{}
		for _, t := range deps.Facade.GetThreads(ctx) {
			switch {
			case filter == "annotated" && !t.IsAnnotated:
				continue
			case filter == "unannotated" && t.IsAnnotated:
				continue
			}
			results = append(results, threadSummary{
				ID:          t.ID,
				Title:       t.Title,
				Messages:    len(t.Messages),
				Annotations: len(t.Annotations),
				UpdatedAt:   t.UpdatedAt,
			})
			if len(results) == limit {
				break
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal threads: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetThread(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		t, ok := deps.Facade.GetThread(ctx, id)
		if !ok {
			return mcpError(fmt.Sprintf("thread %s not found", id)), nil
		}

		b, err := json.Marshal(t)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal thread: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRateThread(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		rating, err := req.RequireString("rating")
		if err != nil {
			return mcpError("rating is required"), nil
		}

		in := domain.AnnotationInput{
			Rating: domain.Rating(rating),
			Notes:  req.GetString("notes", ""),
			Tags:   req.GetStringSlice("tags", nil),
		}

		deps.Writes.Lock()
		t, err := deps.Facade.AppendAnnotation(ctx, id, in)
		deps.Writes.Unlock()
		if err != nil {
			return mcpError(domain.UserMessage(err)), nil
		}

		return mcpText(fmt.Sprintf("Rated thread %s %s (%d annotations)", t.ID, rating, len(t.Annotations))), nil
	}
}

func mcpDeleteAnnotation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		index, err := req.RequireInt("index")
		if err != nil {
			return mcpError("index is required"), nil
		}

		deps.Writes.Lock()
		t, err := deps.Facade.DeleteAnnotation(ctx, id, index)
		deps.Writes.Unlock()
		if errors.Is(err, domain.ErrNotFound) {
			return mcpError(fmt.Sprintf("thread %s not found", id)), nil
		}
		if err != nil {
			return mcpError(domain.UserMessage(err)), nil
		}

		return mcpText(fmt.Sprintf("Thread %s now has %d annotations", t.ID, len(t.Annotations))), nil
	}
}

// AnnotationReport aggregates annotations across threads.
type AnnotationReport struct {
	Threads     int            `json:"threads"`
	Annotated   int            `json:"annotated"`
	Annotations int            `json:"annotations"`
	Good        int            `json:"good"`
	Bad         int            `json:"bad"`
	Tags        []TagCount     `json:"tags"`
	Reviewers   map[string]int `json:"reviewers"`
}

type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// BuildAnnotationReport counts ratings, tags and reviewers. Tags are
// ordered by descending count, then name.
func BuildAnnotationReport(threads []domain.Thread) AnnotationReport {
	rep := AnnotationReport{Threads: len(threads), Tags: []TagCount{}, Reviewers: map[string]int{}}
	tags := map[string]int{}
	for _, t := range threads {
		if len(t.Annotations) > 0 {
			rep.Annotated++
		}
		for _, a := range t.Annotations {
			rep.Annotations++
			switch a.Rating {
			case domain.RatingGood:
				rep.Good++
			case domain.RatingBad:
				rep.Bad++
			}
			for _, tag := range a.Tags {
				tags[tag]++
			}
			if a.CreatedBy != "" {
				rep.Reviewers[a.CreatedBy]++
			}
		}
	}
	for tag, n := range tags {
		rep.Tags = append(rep.Tags, TagCount{Tag: tag, Count: n})
	}
	sort.Slice(rep.Tags, func(i, j int) bool {
		if rep.Tags[i].Count != rep.Tags[j].Count {
			return rep.Tags[i].Count > rep.Tags[j].Count
		}
		return rep.Tags[i].Tag < rep.Tags[j].Tag
	})
	return rep
}

func mcpAnnotationReport(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threads := deps.Facade.GetThreads(ctx)

		switch format := req.GetString("format", "summary"); format {
		case "csv":
			return mcpText(export.ConvertAnnotationsToCSV(threads)), nil
		case "summary":
			b, err := json.Marshal(BuildAnnotationReport(threads))
			if err != nil {
				return mcpError(fmt.Sprintf("failed to marshal report: %v", err)), nil
			}
			return mcpText(string(b)), nil
		default:
			return mcpError(fmt.Sprintf("unknown format %q", format)), nil
		}
	}
}

func mcpResourceAnnotated(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		annotated := []domain.Thread{}
		for _, t := range deps.Facade.GetThreads(ctx) {
			if t.IsAnnotated {
				annotated = append(annotated, t)
			}
		}

		b, err := json.Marshal(annotated)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal threads: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

// Package tools holds the inbuilt tools agents can call.
package tools

import (
	"net/http"

	"bloodtest/analyser-app/core"
)

const (
	ReportReaderTool = "read_blood_report"
	WebSearchTool    = "web_search"
	WebPageTool      = "read_web_page"
	CurrentDateTool  = "current_date"
)

type Options struct {
	MaxDocumentBytes int64
	Search           SearchOptions
	// HTTPClient is used by read_web_page; nil means NewPublicHTTPClient with a
	// 20s timeout, which refuses private and loopback addresses.
	HTTPClient *http.Client
}

// Register adds every inbuilt tool to registry.
func Register(registry *core.ToolRegistry, opts Options) error {
	backend, err := NewSearchBackend(opts.Search)
	if err != nil {
		return err
	}

	inbuilt := []struct {
		name        string
		description string
		handler     any
	}{
		{
			ReportReaderTool,
			"Read the full text of a blood test report (PDF or plain text) from the given file path. Returns the report text, page by page.",
			DocumentReader{MaxBytes: opts.MaxDocumentBytes}.Read,
		},
		{
			WebSearchTool,
			"Search the web for medical reference information, such as normal ranges of a blood marker. Returns a ranked list of {title, url, snippet}.",
			WebSearch{Backend: backend}.Search,
		},
		{
			WebPageTool,
			"Read the text of a web page, for example one found with web_search.",
			WebPageReader{Client: opts.HTTPClient}.Read,
		},
		{
			CurrentDateTool,
			"Get today's date and the current time in a time zone.",
			Clock{}.CurrentDate,
		},
	}

	for _, tool := range inbuilt {
		executor, err := core.NewInbuiltToolExecutor(tool.name, tool.description, tool.handler)
		if err != nil {
			return err
		}
		if err := registry.Register(executor); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding the inbuilt tools.
func NewRegistry(opts Options) (*core.ToolRegistry, error) {
	registry, err := core.NewToolRegistry()
	if err != nil {
		return nil, err
	}
	if err := Register(registry, opts); err != nil {
		return nil, err
	}
	return registry, nil
}

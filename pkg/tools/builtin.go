package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// ErrSearchUnavailable is what the search stub reports.
var ErrSearchUnavailable = errors.New("web search is not available in this client")

// DisplayText returns the display_text tool. The model calls it to show
// formatted text to the user; show receives the text.
func DisplayText(show func(text string)) Tool {
	return Tool{
		Name:        "display_text",
		Description: "Display formatted text (markdown) to the user, e.g. lists, code or tables that are hard to follow by voice.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"text": {
					Type:        genai.TypeString,
					Description: "The text to display.",
				},
			},
			Required: []string{"text"},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			text, _ := args["text"].(string)
			if strings.TrimSpace(text) == "" {
				return "", errors.New("missing text")
			}
			show(text)
			return "displayed", nil
		},
	}
}

// TavilySearch returns the tavily_search declaration with a handler that
// always reports the search as unavailable. Search itself lives outside
// this client; the declaration only lets the model ask for it.
func TavilySearch() Tool {
	return Tool{
		Name:        "tavily_search",
		Description: "Search the web for current information.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"query": {
					Type:        genai.TypeString,
					Description: "The search query.",
				},
			},
			Required: []string{"query"},
		},
		ErrorPrefix: "Error performing search: ",
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			return "", fmt.Errorf("%w (query %q)", ErrSearchUnavailable, query)
		},
	}
}

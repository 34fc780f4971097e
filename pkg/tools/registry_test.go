package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"google.golang.org/genai"
)

func echoTool(name string) Tool {
	return Tool{
		Name: name,
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			v, _ := args["v"].(string)
			return name + ":" + v, nil
		},
	}
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(echoTool("a")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(echoTool("b")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(echoTool("a")); !errors.Is(err, ErrDuplicateTool) {
		t.Errorf("duplicate: got %v", err)
	}
	if err := r.Register(Tool{Name: "nohandler"}); !errors.Is(err, ErrInvalidTool) {
		t.Errorf("invalid: got %v", err)
	}

	decls := r.Declarations()
	if len(decls) != 2 || decls[0].Name != "a" || decls[1].Name != "b" {
		t.Errorf("declarations out of order: %v", r.Names())
	}
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry(WithTimeout(50 * time.Millisecond))
	r.MustRegister(
		echoTool("echo"),
		Tool{
			Name: "fail",
			Handler: func(context.Context, map[string]any) (string, error) {
				return "", errors.New("boom")
			},
		},
		Tool{
			Name: "panic",
			Handler: func(context.Context, map[string]any) (string, error) {
				panic("oops")
			},
		},
		Tool{
			Name: "slow",
			Handler: func(ctx context.Context, _ map[string]any) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			},
		},
		TavilySearch(),
	)

	tests := []struct {
		name       string
		call       Call
		wantOutput string
		wantErr    bool
	}{
		{"success", Call{ID: "1", Name: "echo", Args: map[string]any{"v": "x"}}, "echo:x", false},
		{"nil args", Call{ID: "2", Name: "echo"}, "echo:", false},
		{"handler error", Call{ID: "3", Name: "fail"}, "Error: boom", true},
		{"panic", Call{ID: "4", Name: "panic"}, "Error: tool panic panicked: oops", true},
		{"timeout", Call{ID: "5", Name: "slow"}, "Error: context deadline exceeded", true},
		{"unknown", Call{ID: "6", Name: "nope"}, "Error: tools: unknown tool: nope", true},
		{"custom prefix", Call{ID: "7", Name: "tavily_search", Args: map[string]any{"query": "go"}}, "Error performing search: web search is not available", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Dispatch(context.Background(), tt.call)
			if res.CallID != tt.call.ID || res.Name != tt.call.Name {
				t.Errorf("result not matched to call: %+v", res)
			}
			if !strings.HasPrefix(res.Output, tt.wantOutput) {
				t.Errorf("Output = %q, want prefix %q", res.Output, tt.wantOutput)
			}
			if (res.Err != nil) != tt.wantErr {
				t.Errorf("Err = %v, wantErr %v", res.Err, tt.wantErr)
			}
		})
	}
}

func TestDisplayText(t *testing.T) {
	var shown string
	tool := DisplayText(func(s string) { shown = s })

	out, err := tool.Handler(context.Background(), map[string]any{"text": "# hi"})
	if err != nil || out != "displayed" || shown != "# hi" {
		t.Errorf("got (%q, %v), shown %q", out, err, shown)
	}

	if _, err := tool.Handler(context.Background(), map[string]any{}); err == nil {
		t.Error("expected error for missing text")
	}

	decl := tool.Declaration()
	if decl.Parameters == nil || decl.Parameters.Type != genai.TypeObject {
		t.Errorf("declaration parameters = %+v", decl.Parameters)
	}
}

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/genai"
)

// DefaultTimeout bounds a single tool invocation.
const DefaultTimeout = 30 * time.Second

// Registry is a Dispatcher backed by registered Tools.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithTimeout sets the per-call timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) { r.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools:   make(map[string]Tool),
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool. Declarations keep registration order.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" || t.Handler == nil {
		return fmt.Errorf("%w: %q needs a name and a handler", ErrInvalidTool, t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[t.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Names returns the registered tool names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Declarations implements Dispatcher.
func (r *Registry) Declarations() []*genai.FunctionDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	decls := make([]*genai.FunctionDeclaration, 0, len(r.order))
	for _, name := range r.order {
		decls = append(decls, r.tools[name].Declaration())
	}
	return decls
}

// Dispatch implements Dispatcher.
func (r *Registry) Dispatch(ctx context.Context, call Call) Result {
	r.mu.RLock()
	t, ok := r.tools[call.Name]
	r.mu.RUnlock()

	res := Result{CallID: call.ID, Name: call.Name}
	if !ok {
		res.Err = fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
		res.Output = DefaultErrorPrefix + res.Err.Error()
		r.logger.Warn("tool not found", "tool", call.Name, "call_id", call.ID)
		return res
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := invoke(ctx, t, call.Args)
	if err != nil {
		prefix := t.ErrorPrefix
		if prefix == "" {
			prefix = DefaultErrorPrefix
		}
		res.Err = err
		res.Output = prefix + err.Error()
		r.logger.Warn("tool failed", "tool", call.Name, "call_id", call.ID, "error", err)
		return res
	}

	res.Output = out
	r.logger.Debug("tool done", "tool", call.Name, "call_id", call.ID, "took", time.Since(start))
	return res
}

// invoke runs the handler, turning a panic into an error.
func invoke(ctx context.Context, t Tool, args map[string]any) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool %s panicked: %v", t.Name, p)
		}
	}()
	if args == nil {
		args = map[string]any{}
	}
	return t.Handler(ctx, args)
}

var _ Dispatcher = (*Registry)(nil)

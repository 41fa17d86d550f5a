package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/rapp-os/brainstem/core/protocol"
)

// DefaultAllowedImports lists the stdlib packages a Go script may import.
// Filesystem, process, network, and unsafe packages are excluded.
var DefaultAllowedImports = []string{
	"bytes",
	"encoding/base64",
	"encoding/json",
	"errors",
	"fmt",
	"math",
	"regexp",
	"sort",
	"strconv",
	"strings",
	"time",
	"unicode",
	"unicode/utf8",
}

// loadScript interprets a Go source file with yaegi. A script is package
// main and declares:
//
//	func Description() string
//	func Perform(args map[string]interface{}) (string, error)
//
// and optionally Name() string (defaults to the file stem),
// Parameters() string (a JSON schema), and Version() string.
//
// Evaluation runs under the loader's timeout; package initialisers that
// never return fail the file instead of stalling the load.
func (l *loader) loadScript(ctx context.Context, path string) (Descriptor, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, err
	}

	if err := l.checkImports(path, src); err != nil {
		return Descriptor{}, err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return Descriptor{}, fmt.Errorf("load stdlib symbols: %w", err)
	}
	evalCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		evalCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	if _, err := i.EvalWithContext(evalCtx, string(src)); err != nil {
		return Descriptor{}, l.evalError(ctx, "evaluate", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if s, ok, err := callString(evalCtx, i, "main.Name"); err != nil {
		return Descriptor{}, l.evalError(ctx, "Name()", err)
	} else if ok {
		name = s
	}

	description, ok, err := callString(evalCtx, i, "main.Description")
	if err != nil {
		return Descriptor{}, l.evalError(ctx, "Description()", err)
	}
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s: missing func Description() string", ErrInvalidDefinition, name)
	}

	params := map[string]any{"type": "object", "properties": map[string]any{}}
	if s, ok, err := callString(evalCtx, i, "main.Parameters"); err != nil {
		return Descriptor{}, l.evalError(ctx, "Parameters()", err)
	} else if ok {
		params = nil
		if err := json.Unmarshal([]byte(s), &params); err != nil {
			return Descriptor{}, fmt.Errorf("%w: %s: Parameters(): %v", ErrInvalidDefinition, name, err)
		}
	}

	version, _, err := callString(evalCtx, i, "main.Version")
	if err != nil {
		return Descriptor{}, l.evalError(ctx, "Version()", err)
	}

	v, err := i.Eval("main.Perform")
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %s: missing func Perform", ErrInvalidDefinition, name)
	}
	perform, ok := v.Interface().(func(map[string]interface{}) (string, error))
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s: Perform must be func(map[string]interface{}) (string, error)", ErrInvalidDefinition, name)
	}

	return Descriptor{
		Capability: protocol.Capability{
			Name:        name,
			Description: description,
			Parameters:  params,
		},
		Version: version,
		Kind:    KindScript,
		Source:  path,
		handler: &scriptHandler{perform: perform},
	}, nil
}

func (l *loader) checkImports(path string, src []byte) error {
	f, err := parser.ParseFile(token.NewFileSet(), path, src, parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if f.Name.Name != "main" {
		return fmt.Errorf("%w: script must be package main, got %s", ErrInvalidDefinition, f.Name.Name)
	}

	var forbidden []string
	for _, imp := range f.Imports {
		pkg, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
		}
		if !l.allowedImports[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		sort.Strings(forbidden)
		return fmt.Errorf("%w: %s", ErrForbiddenImport, strings.Join(forbidden, ", "))
	}
	return nil
}

// callString runs an optional interpreted func() string under ctx. ok is
// false when the symbol is absent or has another signature.
func callString(ctx context.Context, i *interp.Interpreter, symbol string) (string, bool, error) {
	v, err := i.Eval(symbol)
	if err != nil {
		return "", false, nil
	}
	if _, ok := v.Interface().(func() string); !ok {
		return "", false, nil
	}
	out, err := i.EvalWithContext(ctx, symbol+"()")
	if err != nil {
		return "", true, err
	}
	if !out.IsValid() || out.Kind() != reflect.String {
		return "", true, fmt.Errorf("%s() did not return a string", symbol)
	}
	return out.String(), true, nil
}

// evalError distinguishes a script that ran past the load timeout from one
// that failed to evaluate. Cancellation of the load itself is passed through.
func (l *loader) evalError(ctx context.Context, step string, err error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s exceeded %s", ErrLoadTimeout, step, l.timeout)
	}
	return fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, step, err)
}

// scriptHandler calls an interpreted Perform. Calls into one interpreter are
// serialised.
type scriptHandler struct {
	perform func(map[string]interface{}) (string, error)
	mu      sync.Mutex
}

func (h *scriptHandler) Invoke(_ context.Context, args map[string]any) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.perform(args)
}

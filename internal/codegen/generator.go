package codegen

import (
	"bytes"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/toll-gate/tollgate/internal/domain/policy"
)

// Markers delimiting the embedded policy constant in every generated file,
// regardless of target language. Tooling (and the fidelity tests) can
// extract the canonical policy JSON between them.
const (
	policyBeginMarker = "@tollgate:policy:begin"
	policyEndMarker   = "@tollgate:policy:end"
)

// UnsupportedFrameworkError is returned when the requested target framework
// has no renderer.
type UnsupportedFrameworkError struct {
	// Framework is the requested target.
	Framework string
	// Supported lists the available targets, sorted.
	Supported []string
}

func (e *UnsupportedFrameworkError) Error() string {
	return fmt.Sprintf("unsupported framework %q (supported: %s)",
		e.Framework, strings.Join(e.Supported, ", "))
}

// InternalError signals an invariant violation inside the generator, such as
// an already-validated policy failing re-validation. It is a programming
// error, never a user configuration problem.
type InternalError struct {
	// Op names the failed operation.
	Op string
	// Err is the underlying failure.
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal codegen error in %s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Renderer turns the IR into middleware source for one target framework.
type Renderer interface {
	// Framework returns the target's name, as accepted on the CLI.
	Framework() string
	// Render emits the middleware source for the program.
	Render(prog Program) ([]byte, error)
}

// Generator renders validated policies into middleware source. It is a
// one-shot batch operation with no shared mutable state; the renderer map is
// fixed at construction.
type Generator struct {
	renderers map[string]Renderer
	logger    *slog.Logger
}

// NewGenerator creates a generator with all built-in renderers registered.
func NewGenerator(logger *slog.Logger) *Generator {
	g := &Generator{
		renderers: make(map[string]Renderer),
		logger:    logger,
	}
	for _, r := range []Renderer{
		newExpressRenderer(),
		newFastAPIRenderer(),
		newEchoRenderer(),
	} {
		g.renderers[r.Framework()] = r
	}
	return g
}

// Frameworks returns the supported target names, sorted.
func (g *Generator) Frameworks() []string {
	names := make([]string, 0, len(g.renderers))
	for name := range g.renderers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Generate renders middleware source for the given target. The policy is
// re-validated first; a failure there is an InternalError since
// ValidatedPolicy cannot be constructed without passing validation.
func (g *Generator) Generate(vp *policy.ValidatedPolicy, framework string) ([]byte, error) {
	renderer, ok := g.renderers[framework]
	if !ok {
		return nil, &UnsupportedFrameworkError{Framework: framework, Supported: g.Frameworks()}
	}

	p := vp.Policy()
	if _, _, err := policy.Validate(&p); err != nil {
		return nil, &InternalError{Op: "re-validation", Err: err}
	}

	prog := Compile(vp)
	out, err := renderer.Render(prog)
	if err != nil {
		return nil, &InternalError{Op: fmt.Sprintf("render %s", framework), Err: err}
	}

	g.logger.Info("middleware generated",
		"framework", framework,
		"rules", len(prog.Steps),
		"bytes", len(out),
	)
	return out, nil
}

// ExtractPolicyJSON returns the canonical policy JSON embedded between the
// policy markers of a generated file. Works for every target because all
// renderers embed the same indented JSON block.
func ExtractPolicyJSON(src []byte) ([]byte, error) {
	begin := bytes.Index(src, []byte(policyBeginMarker))
	if begin < 0 {
		return nil, fmt.Errorf("policy begin marker not found")
	}
	end := bytes.Index(src, []byte(policyEndMarker))
	if end < 0 || end < begin {
		return nil, fmt.Errorf("policy end marker not found")
	}

	region := src[begin+len(policyBeginMarker) : end]
	open := bytes.IndexByte(region, '{')
	closing := bytes.LastIndexByte(region, '}')
	if open < 0 || closing < open {
		return nil, fmt.Errorf("no policy JSON between markers")
	}
	return region[open : closing+1], nil
}

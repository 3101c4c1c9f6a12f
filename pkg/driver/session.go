// Package driver wires the three analyses together under the two-phase
// protocol: register all capabilities, implementations, generics and
// function bodies; freeze; then analyze every body, resolve every call site
// and collect the monomorphized definitions for the back end.
package driver

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"veld/sema/pkg/ast"
	"veld/sema/pkg/borrowck"
	"veld/sema/pkg/diag"
	"veld/sema/pkg/generics"
	"veld/sema/pkg/source"
	"veld/sema/pkg/traits"
	"veld/sema/pkg/types"
)

// Result is the core's complete output for one compilation pass.
type Result struct {
	// Verdicts holds the per-function borrow-check outcome. Codegen must not
	// proceed for a function whose verdict is unsound.
	Verdicts map[string]borrowck.Verdict
	// Calls maps call-site identity to its dispatch decision.
	Calls map[string]traits.MethodResolution
	// Instances are the monomorphized definitions, one per distinct
	// instantiation, sorted by canonical name.
	Instances []*generics.Instance
	// Tables holds the dispatch-table layout of every capability used to
	// build a capability-object reference.
	Tables map[string]*traits.DispatchTable
	// Diagnostics aggregates every user-facing failure of the pass.
	Diagnostics []diag.Diagnostic
}

// Sound reports whether the pass produced no diagnostics at all.
func (r *Result) Sound() bool { return len(r.Diagnostics) == 0 }

// Session owns one compilation pass over a unit.
type Session struct {
	log     *slog.Logger
	reg     *traits.Registry
	res     *generics.Resolver
	checker *borrowck.Checker

	mu     sync.Mutex
	frozen bool
	bodies map[string]*ast.FuncBody
	bag    diag.Bag
}

// NewSession builds an empty session.
func NewSession(logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	reg := traits.NewRegistry()
	return &Session{
		log:     logger,
		reg:     reg,
		res:     generics.NewResolver(reg, logger),
		checker: borrowck.New(reg, logger),
		bodies:  make(map[string]*ast.FuncBody),
	}
}

// Registry exposes the capability system (read paths are safe after Freeze).
func (s *Session) Registry() *traits.Registry { return s.reg }

// Resolver exposes the generic resolver.
func (s *Session) Resolver() *generics.Resolver { return s.res }

// AddCapability registers a capability declaration. Registration failures
// are accumulated as diagnostics; the pass continues.
func (s *Session) AddCapability(decl *ast.CapabilityDecl) {
	s.addDiag(s.reg.DefineCapability(decl))
}

// AddImplementation registers an implementation.
func (s *Session) AddImplementation(impl *ast.ImplDecl) {
	s.addDiag(s.reg.DefineImplementation(impl))
}

// AddGeneric registers a parameterized definition.
func (s *Session) AddGeneric(decl *ast.GenericDecl) {
	s.addDiag(s.res.RegisterGeneric(decl))
}

// AddFunc registers a concrete function body for analysis.
func (s *Session) AddFunc(body *ast.FuncBody) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		diag.Defect("driver: AddFunc(%q) after freeze", body.Name)
	}
	if _, ok := s.bodies[body.Name]; ok {
		diag.Defect("driver: duplicate function body %q", body.Name)
	}
	s.bodies[body.Name] = body
}

func (s *Session) addDiag(err error) {
	if err == nil {
		return
	}
	var d diag.Diagnostic
	if !errors.As(err, &d) {
		diag.Defect("driver: registration returned non-diagnostic error: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		diag.Defect("driver: registration after freeze")
	}
	s.bag.Add(d)
}

// Freeze ends the registration phase. Capability and generic tables become
// read-only; instantiation and body analysis may begin.
func (s *Session) Freeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		diag.Defect("driver: session frozen twice")
	}
	s.frozen = true
	s.reg.Freeze()
	s.res.Freeze()
}

// Instantiate requests a generic instantiation (analysis phase). Failures
// accumulate as diagnostics and do not block unrelated instantiations.
func (s *Session) Instantiate(base string, args []types.Type, span source.Span) (string, bool) {
	s.requireFrozen("Instantiate")
	name, err := s.res.Instantiate(base, args, span)
	if err != nil {
		s.recordAnalysisDiag(err)
		return "", false
	}
	return name, true
}

// BuildCapObject requests construction of a capability-object reference
// (analysis phase), recording the dispatch table on success.
func (s *Session) BuildCapObject(capability string, concrete types.Type, span source.Span) (*traits.ConcreteTable, bool) {
	s.requireFrozen("BuildCapObject")
	table, err := s.reg.BuildCapObject(capability, concrete, span)
	if err != nil {
		s.recordAnalysisDiag(err)
		return nil, false
	}
	return table, true
}

func (s *Session) requireFrozen(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.frozen {
		diag.Defect("driver: %s before Freeze", op)
	}
}

func (s *Session) recordAnalysisDiag(err error) {
	var d diag.Diagnostic
	if !errors.As(err, &d) {
		diag.Defect("driver: analysis returned non-diagnostic error: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bag.Add(d)
}

// AnalyzeAll borrow-checks every registered body (including monomorphized
// function instances) and resolves every call site. Bodies are independent,
// so the work fans out across workers; each worker reads the frozen
// capability and generic tables only.
func (s *Session) AnalyzeAll(ctx context.Context) (*Result, error) {
	s.requireFrozen("AnalyzeAll")
	start := time.Now()

	bodies := s.collectBodies()
	type funcOutcome struct {
		verdict borrowck.Verdict
		calls   map[string]traits.MethodResolution
		diags   []diag.Diagnostic
	}
	outcomes := make([]funcOutcome, len(bodies))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, body := range bodies {
		i, body := i, body
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out := funcOutcome{
				verdict: s.checker.CheckFunc(body),
				calls:   make(map[string]traits.MethodResolution),
			}
			s.resolveCalls(body, out.calls, &out.diags)
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{
		Verdicts:  make(map[string]borrowck.Verdict, len(bodies)),
		Calls:     make(map[string]traits.MethodResolution),
		Instances: s.res.Instances(),
		Tables:    s.reg.Tables(),
	}
	var bag diag.Bag
	s.mu.Lock()
	bag.AddAll(s.bag.Drain())
	s.mu.Unlock()
	for _, out := range outcomes {
		result.Verdicts[out.verdict.Func] = out.verdict
		bag.AddAll(out.verdict.Diagnostics)
		bag.AddAll(out.diags)
		for site, resolution := range out.calls {
			result.Calls[site] = resolution
		}
	}
	result.Diagnostics = bag.Drain()

	s.log.Info("driver: analysis complete",
		slog.Int("functions", len(bodies)),
		slog.Int("instances", len(result.Instances)),
		slog.Int("diagnostics", len(result.Diagnostics)),
		slog.Duration("elapsed", time.Since(start)))
	return result, nil
}

// collectBodies merges registered concrete bodies with monomorphized
// function instances, sorted by name for deterministic work order.
func (s *Session) collectBodies() []*ast.FuncBody {
	s.mu.Lock()
	bodies := make([]*ast.FuncBody, 0, len(s.bodies))
	for _, body := range s.bodies {
		bodies = append(bodies, body)
	}
	s.mu.Unlock()
	for _, inst := range s.res.Instances() {
		if inst.Def.Body != nil {
			bodies = append(bodies, inst.Def.Body)
		}
	}
	sort.Slice(bodies, func(i, j int) bool { return bodies[i].Name < bodies[j].Name })
	return bodies
}

// resolveCalls decides dispatch for every call op in a body.
func (s *Session) resolveCalls(body *ast.FuncBody, calls map[string]traits.MethodResolution, diags *[]diag.Diagnostic) {
	for _, b := range body.Blocks {
		for _, op := range b.Ops {
			call, ok := op.(*ast.Call)
			if !ok {
				continue
			}
			receiver := call.Receiver
			if call.DynReceiver {
				if _, isObj := receiver.(types.CapObject); !isObj {
					diag.Defect("driver: call site %q marked dynamic with non-object receiver %s",
						call.Site, receiver.Name())
				}
			}
			resolution, err := s.reg.ResolveMethod(receiver, call.Method, call.OpSpan())
			if err != nil {
				var d diag.Diagnostic
				if !errors.As(err, &d) {
					diag.Defect("driver: method resolution returned non-diagnostic error: %v", err)
				}
				*diags = append(*diags, d)
				continue
			}
			calls[call.Site] = resolution
		}
	}
}

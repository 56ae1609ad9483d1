// Package balance provides a go/analysis based analyzer for unbalanced
// thread scope counters.
//
// The thread record nesting counters (signal handler, symbolizer,
// interceptor scope, tagging suppression) must be released on every exit
// path, including panics. The analyzer reports:
//
//   - a call to an Enter method or DisableTagging with no deferred matching
//     Leave or EnableTagging call on the same receiver in the same function
//     (returning the release method value also counts);
//   - a scope helper (ScopedTaggingDisabler, EnterInterceptor, ...) whose
//     release function is discarded;
//   - "defer Helper()", which acquires the scope at function exit instead of
//     releasing it.
package balance

import (
	"errors"
	"go/ast"
	"go/types"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

// Analyzer is the scope balance analyzer.
var Analyzer = &analysis.Analyzer{
	Name:     "tagbalance",
	Doc:      "checks that thread scope counters are released by a deferred call",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

// ErrNoInspector is returned when the pass has no inspect.Analyzer result.
var ErrNoInspector = errors.New("inspector analyzer result not found")

// pairs maps acquiring record methods to their releasing counterpart.
var pairs = map[string]string{
	"EnterSignalHandler":    "LeaveSignalHandler",
	"EnterSymbolizer":       "LeaveSymbolizer",
	"EnterInterceptorScope": "LeaveInterceptorScope",
	"DisableTagging":        "EnableTagging",
}

// helpers are package functions returning a release func.
var helpers = map[string]bool{
	"ScopedTaggingDisabler": true,
	"EnterInterceptor":      true,
	"EnterSignalHandler":    true,
	"EnterSymbolizer":       true,
}

// Packages whose declarations are checked.
var (
	recordPkgs = []string{"/internal/tag/thread", "/tagsan"}
	helperPkgs = []string{"/internal/tag/api", "/tagsan"}
)

func run(pass *analysis.Pass) (any, error) {
	insp, ok := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)
	if !ok {
		return nil, ErrNoInspector
	}

	nodeFilter := []ast.Node{
		(*ast.FuncDecl)(nil),
		(*ast.FuncLit)(nil),
	}
	insp.Preorder(nodeFilter, func(n ast.Node) {
		var body *ast.BlockStmt
		switch fn := n.(type) {
		case *ast.FuncDecl:
			body = fn.Body
		case *ast.FuncLit:
			body = fn.Body
		}
		if body != nil {
			checkBody(pass, body)
		}
	})
	return nil, nil
}

// acquire is one Enter/Disable call found in a function body.
type acquire struct {
	call   *ast.CallExpr
	recv   string
	method string
}

// checkBody checks one function body. Nested function literals are checked
// on their own, except deferred ones, whose release calls count for body.
func checkBody(pass *analysis.Pass, body *ast.BlockStmt) {
	var acquires []acquire
	released := make(map[string]bool) // recv + "." + method

	ast.Inspect(body, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.FuncLit:
			return false
		case *ast.DeferStmt:
			collectReleases(pass, n.Call, released)
			checkDeferredHelper(pass, n)
			return false
		case *ast.ReturnStmt:
			// Returning the release method hands it to the caller.
			for _, res := range n.Results {
				if recv, method, ok := recordMethodValue(pass, res); ok {
					released[recv+"."+method] = true
				}
			}
		case *ast.ExprStmt:
			if call, ok := n.X.(*ast.CallExpr); ok {
				if name, ok := helperCall(pass, call); ok {
					pass.Reportf(call.Pos(), "release function returned by %s is discarded", name)
				}
			}
		case *ast.CallExpr:
			if recv, method, ok := recordCall(pass, n); ok {
				if _, acq := pairs[method]; acq {
					acquires = append(acquires, acquire{call: n, recv: recv, method: method})
				}
			}
		}
		return true
	})

	for _, a := range acquires {
		leave := pairs[a.method]
		if !released[a.recv+"."+leave] {
			pass.Reportf(a.call.Pos(), "%s.%s is not released by a deferred %s", a.recv, a.method, leave)
		}
	}
}

// collectReleases records release calls made by a deferred call, looking
// inside a deferred function literal.
func collectReleases(pass *analysis.Pass, call *ast.CallExpr, released map[string]bool) {
	if lit, ok := call.Fun.(*ast.FuncLit); ok {
		ast.Inspect(lit.Body, func(n ast.Node) bool {
			if c, ok := n.(*ast.CallExpr); ok {
				if recv, method, ok := recordCall(pass, c); ok {
					released[recv+"."+method] = true
				}
			}
			return true
		})
		return
	}
	if recv, method, ok := recordCall(pass, call); ok {
		released[recv+"."+method] = true
	}
}

// checkDeferredHelper reports "defer Helper()".
func checkDeferredHelper(pass *analysis.Pass, d *ast.DeferStmt) {
	if name, ok := helperCall(pass, d.Call); ok {
		pass.Reportf(d.Call.Pos(), "defer %s() acquires the scope at function exit; use defer %s()()", name, name)
	}
}

// recordCall matches a method call on a thread record.
func recordCall(pass *analysis.Pass, call *ast.CallExpr) (recv, method string, ok bool) {
	return recordMethodValue(pass, call.Fun)
}

// recordMethodValue matches a method selector on a thread record.
func recordMethodValue(pass *analysis.Pass, expr ast.Expr) (recv, method string, ok bool) {
	sel, ok := expr.(*ast.SelectorExpr)
	if !ok {
		return "", "", false
	}
	selection, ok := pass.TypesInfo.Selections[sel]
	if !ok || selection.Kind() != types.MethodVal {
		return "", "", false
	}
	if !isRecordType(selection.Recv()) {
		return "", "", false
	}
	return types.ExprString(sel.X), sel.Sel.Name, true
}

// isRecordType reports whether t is (a pointer to) the thread record type.
func isRecordType(t types.Type) bool {
	if p, ok := types.Unalias(t).(*types.Pointer); ok {
		t = p.Elem()
	}
	named, ok := types.Unalias(t).(*types.Named)
	if !ok {
		return false
	}
	obj := named.Obj()
	if obj.Pkg() == nil || (obj.Name() != "Record" && obj.Name() != "Thread") {
		return false
	}
	return hasSuffix(obj.Pkg().Path(), recordPkgs)
}

// helperCall matches a call to a scope helper function.
func helperCall(pass *analysis.Pass, call *ast.CallExpr) (string, bool) {
	var ident *ast.Ident
	switch fun := call.Fun.(type) {
	case *ast.Ident:
		ident = fun
	case *ast.SelectorExpr:
		ident = fun.Sel
	default:
		return "", false
	}
	fn, ok := pass.TypesInfo.Uses[ident].(*types.Func)
	if !ok || fn.Pkg() == nil || !helpers[fn.Name()] {
		return "", false
	}
	if sig, ok := fn.Type().(*types.Signature); !ok || sig.Recv() != nil {
		return "", false
	}
	if !hasSuffix(fn.Pkg().Path(), helperPkgs) {
		return "", false
	}
	return fn.Name(), true
}

func hasSuffix(path string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	return false
}

package program

import (
	"context"
	"fmt"
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"sort"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/packages"
)

// loadMode is the information the verifier needs from go/packages.
const loadMode = packages.NeedName |
	packages.NeedFiles |
	packages.NeedCompiledGoFiles |
	packages.NeedImports |
	packages.NeedDeps |
	packages.NeedSyntax |
	packages.NeedTypes |
	packages.NeedTypesInfo

// Load loads the packages matching patterns, relative to dir, and indexes
// them. Only the matched packages are analyzed; dependencies contribute
// types only.
func Load(ctx context.Context, dir string, patterns []string, opts ...Option) (*Program, error) {
	fset := token.NewFileSet()
	cfg := &packages.Config{
		Context: ctx,
		Dir:     dir,
		Fset:    fset,
		Mode:    loadMode,
	}
	loaded, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("load packages: %w", err)
	}

	var loadErrs []string
	packages.Visit(loaded, nil, func(pkg *packages.Package) {
		for _, e := range pkg.Errors {
			loadErrs = append(loadErrs, e.Error())
		}
	})
	if len(loadErrs) > 0 {
		return nil, fmt.Errorf("package load errors: %s", strings.Join(loadErrs, "; "))
	}

	pkgs := make([]*Package, 0, len(loaded))
	for _, lp := range loaded {
		if lp.Types == nil || lp.TypesInfo == nil {
			continue
		}
		pkgs = append(pkgs, &Package{
			Path:  lp.PkgPath,
			Types: lp.Types,
			Info:  lp.TypesInfo,
			Files: lp.Syntax,
		})
	}
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("no packages matched %q", patterns)
	}
	return New(fset, pkgs, opts...), nil
}

// FromPass builds a single-package program from an analysis pass.
func FromPass(pass *analysis.Pass, opts ...Option) *Program {
	pkg := &Package{
		Path:  pass.Pkg.Path(),
		Types: pass.Pkg,
		Info:  pass.TypesInfo,
		Files: pass.Files,
	}
	return New(pass.Fset, []*Package{pkg}, opts...)
}

// FromSource parses and type-checks a single package from in-memory files
// keyed by file name. Imports are resolved from source.
func FromSource(path string, files map[string]string, opts ...Option) (*Program, error) {
	fset := token.NewFileSet()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var syntax []*ast.File
	for _, name := range names {
		f, err := parser.ParseFile(fset, name, files[name], parser.ParseComments)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		syntax = append(syntax, f)
	}

	info := NewInfo()
	conf := types.Config{Importer: importer.ForCompiler(fset, "source", nil)}
	tpkg, err := conf.Check(path, fset, syntax, info)
	if err != nil {
		return nil, fmt.Errorf("type-check %s: %w", path, err)
	}
	pkg := &Package{Path: path, Types: tpkg, Info: info, Files: syntax}
	return New(fset, []*Package{pkg}, opts...), nil
}

// NewInfo returns a types.Info with every map the index relies on.
func NewInfo() *types.Info {
	return &types.Info{
		Types:      make(map[ast.Expr]types.TypeAndValue),
		Defs:       make(map[*ast.Ident]types.Object),
		Uses:       make(map[*ast.Ident]types.Object),
		Implicits:  make(map[ast.Node]types.Object),
		Selections: make(map[*ast.SelectorExpr]*types.Selection),
		Scopes:     make(map[ast.Node]*types.Scope),
		Instances:  make(map[*ast.Ident]types.Instance),
	}
}

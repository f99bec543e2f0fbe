package arch_test

import (
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"slices"
	"testing"
)

// allowedColocations names interfaces that may live in the same package as a
// type implementing them.
var allowedColocations = map[string][]string{
	// Store is shared by every consumer; SQLiteStore and MemStore are its
	// implementations.
	"board": {"Store"},
	// EnricherFunc adapts a function to Enricher.
	"claim": {"Enricher"},
	// Func, CommandHook, NotifyHook and Multi are the stock dispatchers.
	"dispatch": {"Dispatcher"},
}

// methodSets maps each receiver type declared in pkgDir to its method names.
func methodSets(t *testing.T, pkgDir string) map[string][]string {
	t.Helper()

	sets := make(map[string][]string)
	fset := token.NewFileSet()
	for _, path := range goFilesIn(t, pkgDir) {
		node, err := parser.ParseFile(fset, path, nil, parser.SkipObjectResolution)
		if err != nil {
			t.Fatalf("parsing %s: %v", path, err)
		}
		for _, decl := range node.Decls {
			fd, ok := decl.(*ast.FuncDecl)
			if !ok || fd.Recv == nil {
				continue
			}
			recv := fd.Recv.List[0].Type
			if star, ok := recv.(*ast.StarExpr); ok {
				recv = star.X
			}
			if id, ok := recv.(*ast.Ident); ok {
				sets[id.Name] = append(sets[id.Name], fd.Name.Name)
			}
		}
	}
	return sets
}

// TestInterfacePlacement wants interfaces declared by their consumers. It
// flags an interface whose methods are all present, by name, on a type in
// the same package.
func TestInterfacePlacement(t *testing.T) {
	t.Parallel()

	dir := internalDirPath(t)
	for _, pkg := range internalPackages(t) {
		t.Run(pkg, func(t *testing.T) {
			t.Parallel()

			pkgDir := filepath.Join(dir, pkg)
			var ifaces []interfaceDecl
			for _, path := range goFilesIn(t, pkgDir) {
				ifaces = append(ifaces, interfaceDecls(t, path)...)
			}
			if len(ifaces) == 0 {
				return
			}
			sets := methodSets(t, pkgDir)
			for _, iface := range ifaces {
				if len(iface.Methods) == 0 || slices.Contains(allowedColocations[pkg], iface.Name) {
					continue
				}
				for typ, methods := range sets {
					if !slices.ContainsFunc(iface.Methods, func(m string) bool { return !slices.Contains(methods, m) }) {
						t.Errorf("%s declares interface %s next to its implementation %s; move it to the consumer",
							pkg, iface.Name, typ)
					}
				}
			}
		})
	}
}

// Package arch_test holds structural checks over pulsar's internal packages:
// layering, documentation, global state, interface placement and file size.
package arch_test

import (
	"bytes"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

const internalImportPrefix = "github.com/papapumpkin/pulsar/internal/"

// repoRoot returns the module root. go test runs in the package directory,
// which is internal/arch_test.
func repoRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	root := filepath.Join(wd, "..", "..")
	if _, err := os.Stat(filepath.Join(root, "go.mod")); err != nil {
		t.Fatalf("no go.mod at %s: %v", root, err)
	}
	return root
}

func internalDirPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(repoRoot(t), "internal")
}

// internalPackages lists the directories under internal/ that hold Go
// source, other than this one.
func internalPackages(t *testing.T) []string {
	t.Helper()

	dir := internalDirPath(t)
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading %s: %v", dir, err)
	}
	var pkgs []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != "arch_test" && len(goFilesIn(t, filepath.Join(dir, e.Name()))) > 0 {
			pkgs = append(pkgs, e.Name())
		}
	}
	return pkgs
}

// goFilesIn returns the non-test .go files in dir.
func goFilesIn(t *testing.T, dir string) []string {
	t.Helper()
	return listGoFiles(t, dir, false)
}

// allGoFilesIn returns every .go file in dir, tests included.
func allGoFilesIn(t *testing.T, dir string) []string {
	t.Helper()
	return listGoFiles(t, dir, true)
}

func listGoFiles(t *testing.T, dir string, tests bool) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading directory %s: %v", dir, err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") {
			continue
		}
		if !tests && strings.HasSuffix(name, "_test.go") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files
}

// importsOf returns the internal packages imported by the non-test files in
// pkgDir, by first path element after internal/.
func importsOf(t *testing.T, pkgDir string) []string {
	t.Helper()

	seen := make(map[string]bool)
	fset := token.NewFileSet()
	for _, f := range goFilesIn(t, pkgDir) {
		node, err := parser.ParseFile(fset, f, nil, parser.ImportsOnly)
		if err != nil {
			t.Fatalf("parsing imports in %s: %v", f, err)
		}
		for _, imp := range node.Imports {
			rel, ok := strings.CutPrefix(strings.Trim(imp.Path.Value, `"`), internalImportPrefix)
			if !ok {
				continue
			}
			pkg, _, _ := strings.Cut(rel, "/")
			seen[pkg] = true
		}
	}
	result := make([]string, 0, len(seen))
	for pkg := range seen {
		result = append(result, pkg)
	}
	sort.Strings(result)
	return result
}

// readSource reads a file, failing the test on error.
func readSource(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return data
}

// lineCount counts lines, including a final line without a newline.
func lineCount(t *testing.T, path string) int {
	t.Helper()
	data := readSource(t, path)
	n := bytes.Count(data, []byte("\n"))
	if len(data) > 0 && data[len(data)-1] != '\n' {
		n++
	}
	return n
}

// isGenerated reports whether the file carries a "Code generated" header.
func isGenerated(t *testing.T, path string) bool {
	t.Helper()
	head := readSource(t, path)
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.Contains(head, []byte("Code generated"))
}

// interfaceDecl is an interface type with the names of its methods.
type interfaceDecl struct {
	Name    string
	Methods []string
}

// interfaceDecls returns the interface types declared in a file.
func interfaceDecls(t *testing.T, path string) []interfaceDecl {
	t.Helper()

	node, err := parser.ParseFile(token.NewFileSet(), path, nil, 0)
	if err != nil {
		t.Fatalf("parsing %s: %v", path, err)
	}
	var decls []interfaceDecl
	ast.Inspect(node, func(n ast.Node) bool {
		ts, ok := n.(*ast.TypeSpec)
		if !ok {
			return true
		}
		iface, ok := ts.Type.(*ast.InterfaceType)
		if !ok {
			return false
		}
		d := interfaceDecl{Name: ts.Name.Name}
		for _, m := range iface.Methods.List {
			for _, name := range m.Names {
				d.Methods = append(d.Methods, name.Name)
			}
		}
		decls = append(decls, d)
		return false
	})
	return decls
}

// docText returns the text of the first non-nil comment group.
func docText(groups ...*ast.CommentGroup) string {
	for _, g := range groups {
		if g != nil {
			return g.Text()
		}
	}
	return ""
}

package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	cerrors "github.com/Aman-CERP/cpid/internal/errors"
	"github.com/Aman-CERP/cpid/internal/index"
	"github.com/Aman-CERP/cpid/internal/parse"
)

// DeclaredPackage aggregates what the sources of one package declare.
type DeclaredPackage struct {
	// Name is the dotted package name; empty until a package declaration
	// has been seen.
	Name string
	// Identifiers are the declared type names, sorted and deduplicated.
	Identifiers []string
	// Files are the source files that declared at least one type.
	Files []string
}

// Merge combines two partial results. The first non-empty name wins;
// identifier and file sets are unioned.
func (d DeclaredPackage) Merge(other DeclaredPackage) DeclaredPackage {
	name := d.Name
	if name == "" {
		name = other.Name
	}
	return DeclaredPackage{
		Name:        name,
		Identifiers: index.Union(d.Identifiers, other.Identifiers),
		Files:       index.Union(d.Files, other.Files),
	}
}

// Tuples converts the package into index tuples with no origin.
func (d DeclaredPackage) Tuples() []index.Tuple {
	tuples := make([]index.Tuple, 0, len(d.Identifiers))
	for _, id := range d.Identifiers {
		tuples = append(tuples, index.Tuple{Class: id, Package: d.Name})
	}
	return tuples
}

var typeDeclarations = map[string]bool{
	"class_declaration":           true,
	"interface_declaration":       true,
	"enum_declaration":            true,
	"record_declaration":          true,
	"annotation_type_declaration": true,
}

var annotationNodes = map[string]bool{
	"marker_annotation": true,
	"annotation":        true,
}

// collectDeclarations returns the package name and type names declared in
// the subtree rooted at n, nested types included.
func collectDeclarations(n *parse.Node, src []byte) DeclaredPackage {
	if n.Type == "package_declaration" {
		name := identifierOf(n, src)
		if name == "" {
			slog.Debug("package declaration without a name")
		}
		return DeclaredPackage{Name: name}
	}

	var result DeclaredPackage
	if typeDeclarations[n.Type] {
		if name := identifierOf(n, src); name != "" {
			result.Identifiers = []string{name}
		}
	}
	for _, child := range n.Children {
		result = result.Merge(collectDeclarations(child, src))
	}
	return result
}

// identifierOf returns the first (possibly dotted) name among the
// descendants of a declaration.
func identifierOf(decl *parse.Node, src []byte) string {
	name, _ := collectIdentifier(decl.Children, src, "")
	return name
}

// collectIdentifier scans nodes depth-first, appending identifier and "."
// tokens to prefix. A scoped identifier is taken whole. Annotations are
// skipped. Once something has been collected, the first other node ends
// the name. The bool result reports that the name is complete.
func collectIdentifier(nodes []*parse.Node, src []byte, prefix string) (string, bool) {
	for _, n := range nodes {
		switch {
		case n.Type == "scoped_identifier":
			return prefix + compact(n.Content(src)), true
		case n.Type == "identifier" || n.Type == ".":
			prefix += n.Content(src)
		case annotationNodes[n.Type]:
			continue
		case prefix != "":
			return prefix, true
		}

		var done bool
		prefix, done = collectIdentifier(n.Children, src, prefix)
		if done {
			return prefix, true
		}
	}
	return prefix, false
}

// compact drops whitespace inside a dotted name such as "org . example".
func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// ExtractFile parses one Java source file. A file without a package
// declaration is an error.
func ExtractFile(ctx context.Context, p *parse.Parser, path string) (DeclaredPackage, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return DeclaredPackage{}, cerrors.New(cerrors.ErrCodeSourceParse,
			fmt.Sprintf("cannot read %s", path), err)
	}
	tree, err := p.Parse(ctx, src)
	if err != nil {
		return DeclaredPackage{}, cerrors.New(cerrors.ErrCodeSourceParse,
			fmt.Sprintf("cannot parse %s", path), err)
	}

	pkg := collectDeclarations(tree.Root, src)
	if pkg.Name == "" {
		return DeclaredPackage{}, cerrors.New(cerrors.ErrCodeSourceParse,
			fmt.Sprintf("no package declared in %s", path), nil)
	}
	if len(pkg.Identifiers) > 0 {
		pkg.Files = []string{path}
	}
	return pkg, nil
}

// GeneratedDir is the directory name the crawler never descends into.
const GeneratedDir = "generated"

// JavaSources lists the .java files under root, skipping hidden entries
// and generated-source directories.
func JavaSources(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Debug("skipping unreadable path", slog.String("path", path), slog.String("error", err.Error()))
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			if path == root {
				return err
			}
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path != root && d.IsDir() && d.Name() == GeneratedDir {
			return filepath.SkipDir
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".java") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// CrawlProject extracts every Java source under root using up to workers
// parsers in parallel. Files that fail to read or parse, or that declare no
// package, are logged and skipped. The result is sorted by package name.
func CrawlProject(ctx context.Context, root string, workers int) ([]DeclaredPackage, int, error) {
	files, err := JavaSources(root)
	if err != nil {
		return nil, 0, err
	}
	if workers <= 0 {
		workers = 1
	}

	var (
		mu       sync.Mutex
		packages = make(map[string]DeclaredPackage)
		skipped  int
	)

	paths := make(chan string)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(paths)
		for _, f := range files {
			if err := gctx.Err(); err != nil {
				return err
			}
			select {
			case paths <- f:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for i := 0; i < min(workers, max(len(files), 1)); i++ {
		g.Go(func() error {
			p := parse.NewParser()
			defer p.Close()
			for path := range paths {
				pkg, err := ExtractFile(gctx, p, path)
				mu.Lock()
				if err != nil {
					skipped++
					slog.Debug("skipping source file", cerrors.LogAttrs(err)...)
				} else {
					packages[pkg.Name] = packages[pkg.Name].Merge(pkg)
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, skipped, err
	}

	out := make([]DeclaredPackage, 0, len(packages))
	for _, name := range slices.Sorted(maps.Keys(packages)) {
		out = append(out, packages[name])
	}
	return out, skipped, nil
}

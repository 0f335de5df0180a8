package ingest

import (
	"slices"
	"strings"

	"github.com/Aman-CERP/cpid/internal/index"
)

// TupleFromEntry derives a tuple from an archive-style entry name such as
// "org/junit/rules/Timeout.class". Entries that are not classes, that name
// nested classes (containing '$'), that sit at the archive root, or that
// have an empty path component ("/Root.class", "com//x/A.class") are
// rejected.
func TupleFromEntry(entry, origin string) (index.Tuple, bool) {
	stub, ok := strings.CutSuffix(entry, ".class")
	if !ok || strings.Contains(entry, "$") {
		return index.Tuple{}, false
	}
	parts := strings.Split(stub, "/")
	if len(parts) < 2 || slices.Contains(parts, "") {
		return index.Tuple{}, false
	}
	return index.Tuple{
		Class:   parts[len(parts)-1],
		Package: strings.Join(parts[:len(parts)-1], "."),
		Origin:  origin,
	}, true
}

// SplitClasspath returns the archive entries of a colon-separated
// classpath. Directories and other non-".jar" entries are dropped.
func SplitClasspath(classpath string) []string {
	var jars []string
	for _, p := range strings.Split(classpath, ":") {
		if strings.HasSuffix(p, ".jar") {
			jars = append(jars, p)
		}
	}
	return jars
}

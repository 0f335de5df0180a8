package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/Aman-CERP/cpid/internal/errors"
	"github.com/Aman-CERP/cpid/internal/index"
	"github.com/Aman-CERP/cpid/internal/parse"
)

func extract(t *testing.T, src string) (DeclaredPackage, error) {
	t.Helper()
	path := writeFile(t, filepath.Join(t.TempDir(), "Src.java"), src)
	p := parse.NewParser()
	defer p.Close()
	return ExtractFile(context.Background(), p, path)
}

func TestExtractFile(t *testing.T) {
	tests := []struct {
		name        string
		src         string
		wantPackage string
		wantIDs     []string
	}{
		{
			name:        "class and interface",
			src:         "package a.b; class C {} interface I {}",
			wantPackage: "a.b",
			wantIDs:     []string{"C", "I"},
		},
		{
			name:        "single segment package",
			src:         "package util; public final class Strings {}",
			wantPackage: "util",
			wantIDs:     []string{"Strings"},
		},
		{
			name: "nested types and enum",
			src: `package org.example;

public class Outer {
    static class Inner {}
    enum Mode { ON, OFF }
}`,
			wantPackage: "org.example",
			wantIDs:     []string{"Inner", "Mode", "Outer"},
		},
		{
			name: "annotated and generic declarations",
			src: `package org.example.api;

@Deprecated
@SuppressWarnings("unchecked")
public class Box<T extends Comparable<T>> implements Comparable<Box<T>> {
    public int compareTo(Box<T> o) { return 0; }
}

@interface Marker {}
record Point(int x, int y) {}`,
			wantPackage: "org.example.api",
			wantIDs:     []string{"Box", "Marker", "Point"},
		},
		{
			name:        "package without types",
			src:         "package org.empty;",
			wantPackage: "org.empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg, err := extract(t, tt.src)
			require.NoError(t, err)

			assert.Equal(t, tt.wantPackage, pkg.Name)
			assert.Equal(t, tt.wantIDs, pkg.Identifiers)
			if len(tt.wantIDs) > 0 {
				assert.Len(t, pkg.Files, 1)
			} else {
				assert.Empty(t, pkg.Files)
			}
		})
	}
}

func TestExtractFile_NoPackage(t *testing.T) {
	_, err := extract(t, "class Orphan {}")

	require.Error(t, err)
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCodeSourceParse))
}

func TestExtractFile_Unreadable(t *testing.T) {
	p := parse.NewParser()
	defer p.Close()

	_, err := ExtractFile(context.Background(), p, filepath.Join(t.TempDir(), "Missing.java"))

	assert.True(t, cerrors.HasCode(err, cerrors.ErrCodeSourceParse))
}

func TestDeclaredPackage_Merge(t *testing.T) {
	a := DeclaredPackage{Name: "p", Identifiers: []string{"B", "A"}, Files: []string{"/x/B.java"}}
	b := DeclaredPackage{Identifiers: []string{"A", "C"}, Files: []string{"/x/A.java"}}

	got := b.Merge(a)

	assert.Equal(t, "p", got.Name)
	assert.Equal(t, []string{"A", "B", "C"}, got.Identifiers)
	assert.Equal(t, []string{"/x/A.java", "/x/B.java"}, got.Files)
	assert.Equal(t, []index.Tuple{
		{Class: "A", Package: "p"},
		{Class: "B", Package: "p"},
		{Class: "C", Package: "p"},
	}, got.Tuples())
}

func TestJavaSources_SkipsHiddenAndGenerated(t *testing.T) {
	root := t.TempDir()
	keep := writeFile(t, filepath.Join(root, "src", "a", "A.java"), "package a; class A {}")
	writeFile(t, filepath.Join(root, ".git", "b", "B.java"), "package b; class B {}")
	writeFile(t, filepath.Join(root, "src", ".Hidden.java"), "package a; class Hidden {}")
	writeFile(t, filepath.Join(root, "build", "generated", "G.java"), "package g; class G {}")
	writeFile(t, filepath.Join(root, "src", "a", "notes.txt"), "not java")

	files, err := JavaSources(root)
	require.NoError(t, err)

	assert.Equal(t, []string{keep}, files)
}

func TestCrawlProject(t *testing.T) {
	// Given: a project whose package is split across directories
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main", "org", "ex", "A.java"), "package org.ex; public class A {}")
	writeFile(t, filepath.Join(root, "test", "org", "ex", "ATest.java"), "package org.ex; class ATest {}")
	writeFile(t, filepath.Join(root, "main", "org", "other", "B.java"), "package org.other; interface B {}")
	writeFile(t, filepath.Join(root, "main", "Orphan.java"), "class Orphan {}")

	for _, workers := range []int{0, 1, 4} {
		// When: crawling
		packages, skipped, err := CrawlProject(context.Background(), root, workers)
		require.NoError(t, err)

		// Then: packages are merged by name and sorted
		require.Len(t, packages, 2, "workers=%d", workers)
		assert.Equal(t, "org.ex", packages[0].Name)
		assert.Equal(t, []string{"A", "ATest"}, packages[0].Identifiers)
		assert.Len(t, packages[0].Files, 2)
		assert.Equal(t, "org.other", packages[1].Name)
		assert.Equal(t, []string{"B"}, packages[1].Identifiers)
		assert.Equal(t, 1, skipped)
	}
}

func TestCrawlProject_Cancelled(t *testing.T) {
	root := t.TempDir()
	for _, n := range []string{"A", "B", "C", "D"} {
		writeFile(t, filepath.Join(root, n+".java"), "package p; class "+n+" {}")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := CrawlProject(ctx, root, 1)

	assert.ErrorIs(t, err, context.Canceled)
}

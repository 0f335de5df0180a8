package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	cerrors "github.com/Aman-CERP/cpid/internal/errors"
	"github.com/Aman-CERP/cpid/internal/index"
)

// Options configures a Pipeline.
type Options struct {
	// Workers bounds concurrent archive scans and source parses.
	Workers int
	// JImageTool is the jimage executable used for module images.
	JImageTool string
	// Cache, when non-nil, reuses scans of unchanged archives.
	Cache *ArchiveCache
	// OnApplied, when set, is called with the tuple count of every
	// successful ApplyTuples.
	OnApplied func(index string, tuples int)
}

// Summary describes one reindex run.
type Summary struct {
	// Sources is the number of archives, images or files examined.
	Sources int
	// Skipped is the number of sources that could not be decoded.
	Skipped int
	// Tuples is the number of tuples merged into the index.
	Tuples   int
	Duration time.Duration
}

// Pipeline runs extractors and applies their tuples to an index.Store.
type Pipeline struct {
	store *index.Store
	opts  Options
}

// NewPipeline creates a pipeline writing to store.
func NewPipeline(store *index.Store, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Pipeline{store: store, opts: opts}
}

// ReindexClasspath indexes every ".jar" entry of a colon-separated
// classpath.
func (p *Pipeline) ReindexClasspath(ctx context.Context, indexName, classpath string) (*Summary, error) {
	return p.timed(indexName, "classpath", func(s *Summary) error {
		return p.indexArchives(ctx, indexName, SplitClasspath(classpath), s)
	})
}

// ReindexJarDir indexes every ".jar" file below dir.
func (p *Pipeline) ReindexJarDir(ctx context.Context, indexName, dir string) (*Summary, error) {
	if err := requireDir(dir); err != nil {
		return nil, err
	}
	return p.timed(indexName, "jar-dir", func(s *Summary) error {
		jars, err := findJars(dir)
		if err != nil {
			return err
		}
		return p.indexArchives(ctx, indexName, jars, s)
	})
}

// ReindexModuleImage indexes the classes of a modular runtime image.
func (p *Pipeline) ReindexModuleImage(ctx context.Context, indexName, path string) (*Summary, error) {
	if !IsModuleImage(path) {
		return nil, cerrors.New(cerrors.ErrCodeNotModuleImage,
			fmt.Sprintf("%s is not a module image", path), nil).
			WithSuggestion("pass $JAVA_HOME/lib/modules")
	}
	return p.timed(indexName, "jimage", func(s *Summary) error {
		s.Sources = 1
		tuples, err := ListModuleImage(ctx, p.opts.JImageTool, path)
		if err != nil {
			return err
		}
		return p.apply(indexName, tuples, s)
	})
}

// ReindexProject indexes the types declared by the Java sources under dir.
func (p *Pipeline) ReindexProject(ctx context.Context, indexName, dir string) (*Summary, error) {
	if err := requireDir(dir); err != nil {
		return nil, err
	}
	return p.timed(indexName, "project", func(s *Summary) error {
		packages, skipped, err := CrawlProject(ctx, dir, p.opts.Workers)
		if err != nil {
			return err
		}
		var tuples []index.Tuple
		for _, pkg := range packages {
			s.Sources += len(pkg.Files)
			tuples = append(tuples, pkg.Tuples()...)
		}
		s.Sources += skipped
		s.Skipped += skipped
		return p.apply(indexName, tuples, s)
	})
}

// ReindexPath picks the extractor from what path is: a directory is
// scanned for archives, a module image is listed, anything else is
// treated as a classpath string.
func (p *Pipeline) ReindexPath(ctx context.Context, indexName, path string) (*Summary, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return p.ReindexJarDir(ctx, indexName, path)
	case err == nil && IsModuleImage(path):
		return p.ReindexModuleImage(ctx, indexName, path)
	default:
		return p.ReindexClasspath(ctx, indexName, path)
	}
}

func (p *Pipeline) timed(indexName, kind string, run func(*Summary) error) (*Summary, error) {
	if err := index.ValidateName(indexName); err != nil {
		return nil, err
	}
	start := time.Now()
	s := &Summary{}
	err := run(s)
	s.Duration = time.Since(start)
	if err != nil {
		return s, err
	}
	slog.Info("reindex complete",
		slog.String("index", indexName),
		slog.String("source", kind),
		slog.Int("sources", s.Sources),
		slog.Int("skipped", s.Skipped),
		slog.Int("tuples", s.Tuples),
		slog.Duration("duration", s.Duration))
	return s, nil
}

// indexArchives scans archives concurrently, then applies them in the
// given order so runs are reproducible.
func (p *Pipeline) indexArchives(ctx context.Context, indexName string, jars []string, s *Summary) error {
	results := make([][]index.Tuple, len(jars))
	failed := make([]error, len(jars))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i, jar := range jars {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], failed[i] = p.opts.Cache.Scan(jar)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.Sources += len(jars)
	for i, jar := range jars {
		if failed[i] != nil {
			s.Skipped++
			slog.Warn("skipping archive", append([]any{"archive", jar}, cerrors.LogAttrs(failed[i])...)...)
			continue
		}
		if err := p.apply(indexName, results[i], s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) apply(indexName string, tuples []index.Tuple, s *Summary) error {
	n, err := p.store.ApplyTuples(indexName, tuples)
	s.Tuples += n
	if err != nil {
		return err
	}
	if p.opts.OnApplied != nil {
		p.opts.OnApplied(indexName, n)
	}
	return nil
}

func requireDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return cerrors.New(cerrors.ErrCodeInvalidPath, fmt.Sprintf("cannot access %s", dir), err)
	}
	if !info.IsDir() {
		return cerrors.New(cerrors.ErrCodeNotADirectory, fmt.Sprintf("%s is not a directory", dir), nil)
	}
	return nil
}

// findJars returns the ".jar" files below dir in lexical order.
func findJars(dir string) ([]string, error) {
	var jars []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".jar") {
			jars = append(jars, path)
		}
		return nil
	})
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeInvalidPath, fmt.Sprintf("cannot walk %s", dir), err)
	}
	slices.Sort(jars)
	return jars, nil
}

package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"

	cerrors "github.com/Aman-CERP/cpid/internal/errors"
	"github.com/Aman-CERP/cpid/internal/index"
)

// ModuleImageMagic is the first four bytes of a modular runtime image.
var ModuleImageMagic = []byte{0xDA, 0xDA, 0xFE, 0xCA}

var (
	moduleHeaderPattern = regexp.MustCompile(`^Module: (.+)$`)
	// No '$' in the character classes, so nested classes never match.
	classEntryPattern = regexp.MustCompile(`^\s+([a-z0-9]+[/])+([A-Za-z0-9_]+).class`)
)

// IsModuleImage reports whether path starts with the module-image magic.
// Unreadable or short files are not images.
func IsModuleImage(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, len(ModuleImageMagic))
	if _, err := io.ReadFull(f, buf); err != nil {
		return false
	}
	return bytes.Equal(buf, ModuleImageMagic)
}

// ParseModuleListing reads `jimage list` output. Module headers set the
// module used in each tuple's origin; indented class entries become
// tuples; every other line is ignored.
func ParseModuleListing(r io.Reader, image string) ([]index.Tuple, error) {
	var (
		tuples []index.Tuple
		module string
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if m := moduleHeaderPattern.FindStringSubmatch(line); m != nil {
			module = m[1]
			continue
		}
		match := classEntryPattern.FindString(line)
		if match == "" {
			continue
		}
		entry := strings.TrimSpace(match)
		if t, ok := TupleFromEntry(entry, fmt.Sprintf("%s!%s/%s", image, module, entry)); ok {
			tuples = append(tuples, t)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, cerrors.New(cerrors.ErrCodeListingDecode,
			fmt.Sprintf("failed reading listing of %s", image), err)
	}
	return tuples, nil
}

// ListModuleImage runs `<tool> list <path>` and parses its output.
func ListModuleImage(ctx context.Context, tool, path string) ([]index.Tuple, error) {
	if tool == "" {
		tool = "jimage"
	}
	cmd := exec.CommandContext(ctx, tool, "list", path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeListingDecode, "failed to capture jimage output", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, cerrors.New(cerrors.ErrCodeListingDecode,
			fmt.Sprintf("failed to start %s", tool), err).
			WithSuggestion("install a JDK or set ingest.jimage_tool / CPID_JIMAGE")
	}

	tuples, parseErr := ParseModuleListing(stdout, path)
	// Drain so the child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, cerrors.New(cerrors.ErrCodeListingDecode,
			fmt.Sprintf("%s list %s failed: %s", tool, path, msg), err)
	}
	if parseErr != nil {
		return nil, parseErr
	}
	return tuples, nil
}

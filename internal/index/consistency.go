package index

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// InconsistencyType categorizes a mismatch between the two sides of an index.
type InconsistencyType int

const (
	// MissingPackageSide: the class side lists a package whose entry does
	// not list the class back.
	MissingPackageSide InconsistencyType = iota
	// MissingClassSide: the package side lists a class whose entry does
	// not list the package back.
	MissingClassSide
)

// String returns a short description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case MissingPackageSide:
		return "missing_package_side"
	case MissingClassSide:
		return "missing_class_side"
	default:
		return "unknown"
	}
}

// Inconsistency is one pair present on only one side of an index.
type Inconsistency struct {
	Type    InconsistencyType
	Class   string
	Package string
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	// Pairs is the number of (class, package) pairs examined.
	Pairs int
	// Inconsistencies contains all detected issues.
	Inconsistencies []Inconsistency
	// Duration is how long the check took.
	Duration time.Duration
}

// Consistent reports whether no issues were found.
func (r *CheckResult) Consistent() bool {
	return len(r.Inconsistencies) == 0
}

// Check compares the two keyspaces of index. They can disagree after a
// crash in the middle of ApplyTuples, since no transaction spans both.
func (s *Store) Check(index string) (*CheckResult, error) {
	start := time.Now()

	byClass := make(map[[2]string]bool)
	byPackage := make(map[[2]string]bool)
	err := s.Enumerate(index, func(e Entry) error {
		for _, v := range e.Values {
			if e.Role == RoleClass {
				byClass[[2]string{e.Key, v}] = true
			} else {
				byPackage[[2]string{v, e.Key}] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &CheckResult{}
	for pair := range byClass {
		if !byPackage[pair] {
			result.Inconsistencies = append(result.Inconsistencies,
				Inconsistency{Type: MissingPackageSide, Class: pair[0], Package: pair[1]})
		}
	}
	for pair := range byPackage {
		if !byClass[pair] {
			result.Inconsistencies = append(result.Inconsistencies,
				Inconsistency{Type: MissingClassSide, Class: pair[0], Package: pair[1]})
		}
	}
	slices.SortFunc(result.Inconsistencies, func(a, b Inconsistency) int {
		if a.Class != b.Class {
			return cmp.Compare(a.Class, b.Class)
		}
		return cmp.Compare(a.Package, b.Package)
	})

	result.Pairs = len(byClass) + countMissing(result, MissingClassSide)
	result.Duration = time.Since(start)

	if !result.Consistent() {
		slog.Warn("index sides disagree",
			slog.String("index", index),
			slog.Int("issues", len(result.Inconsistencies)))
	}
	return result, nil
}

// Repair re-applies every half-present pair so both sides list it.
// Index merges are additive, so completing the missing side is the only
// safe fix.
func (s *Store) Repair(index string, issues []Inconsistency) (int, error) {
	if len(issues) == 0 {
		return 0, nil
	}
	tuples := make([]Tuple, 0, len(issues))
	for _, is := range issues {
		tuples = append(tuples, Tuple{
			Class:   is.Class,
			Package: is.Package,
			Origin:  fmt.Sprintf("repair:%s", is.Type),
		})
	}
	n, err := s.ApplyTuples(index, tuples)
	if err != nil {
		return n, err
	}
	slog.Info("index repaired", slog.String("index", index), slog.Int("pairs", n))
	return n, nil
}

func countMissing(r *CheckResult, t InconsistencyType) int {
	n := 0
	for _, is := range r.Inconsistencies {
		if is.Type == t {
			n++
		}
	}
	return n
}

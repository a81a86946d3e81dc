package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Level is the depth of a node in the ledger hierarchy. The root organisation
// is level 1; GL subcategories sit at MaxLevel.
type Level int

const (
	LevelOrganisation Level = iota + 1
	Level2
	Level3
	Level4
	LevelGLDetail
	LevelCategory
	LevelSubcategory
)

// MaxLevel is the deepest grouping level. Line items hang below it.
const MaxLevel = LevelSubcategory

// PathSeparator separates hierarchy segments in a path string.
const PathSeparator = "/"

var levelNames = map[Level]string{
	LevelOrganisation: "organisation",
	Level2:            "level2",
	Level3:            "level3",
	Level4:            "level4",
	LevelGLDetail:     "level5",
	LevelCategory:     "category",
	LevelSubcategory:  "subcategory",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

func (l Level) IsValid() bool {
	return l >= LevelOrganisation && l <= MaxLevel
}

// ParseLevel accepts a level number (1-7) or a level name such as "category".
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && Level(n).IsValid() {
		return Level(n), nil
	}
	return 0, fmt.Errorf("invalid level %q", s)
}

// CleanPath trims blanks and redundant separators: " a//b/ " becomes "a/b".
func CleanPath(path string) string {
	return strings.Join(SplitPath(path), PathSeparator)
}

// SplitPath returns the non-empty segments of path.
func SplitPath(path string) []string {
	raw := strings.Split(path, PathSeparator)
	out := make([]string, 0, len(raw))
	for _, seg := range raw {
		seg = strings.TrimSpace(seg)
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// PathLevel returns the depth of path; the empty path is level 0.
func PathLevel(path string) Level {
	return Level(len(SplitPath(path)))
}

// TruncatePath returns the ancestor of path at level l, or path itself when it is shallower.
func TruncatePath(path string, l Level) string {
	segs := SplitPath(path)
	if int(l) < len(segs) {
		segs = segs[:l]
	}
	return strings.Join(segs, PathSeparator)
}

// ParentPath returns the path one level up; the parent of a level-1 node is "".
func ParentPath(path string) string {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return ""
	}
	return strings.Join(segs[:len(segs)-1], PathSeparator)
}

// Ancestors returns every proper prefix of path from the root down, path excluded.
func Ancestors(path string) []string {
	segs := SplitPath(path)
	out := make([]string, 0, len(segs))
	for i := 1; i < len(segs); i++ {
		out = append(out, strings.Join(segs[:i], PathSeparator))
	}
	return out
}

// HasPathPrefix reports whether path equals prefix or lies below it.
// Matching is per segment, so "org/a" is not under "org/ab".
func HasPathPrefix(path, prefix string) bool {
	p, pre := SplitPath(path), SplitPath(prefix)
	if len(pre) > len(p) {
		return false
	}
	for i := range pre {
		if p[i] != pre[i] {
			return false
		}
	}
	return true
}

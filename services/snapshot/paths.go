package snapshot

import (
	"fmt"
	"path"
	"strings"
)

const (
	evidenceDir = "evidence"
	policiesDir = "policies"
)

// SanitizeSegment makes name safe to use as one archive path segment.
// Separators become underscores and dot-only names are replaced.
func SanitizeSegment(name, fallback string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':':
			return '_'
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, name)
	if strings.Trim(name, ".") == "" {
		return fallback
	}
	return name
}

// pathAllocator hands out unique archive paths. One allocator covers the whole
// archive so controls whose codes sanitize to the same directory share it.
// Paths compare case-insensitively.
type pathAllocator struct {
	taken map[string]bool
}

func newPathAllocator() *pathAllocator {
	return &pathAllocator{taken: make(map[string]bool)}
}

// claim reserves dir/name and returns it, or "" if taken
func (a *pathAllocator) claim(dir, name string) string {
	p := path.Join(dir, name)
	key := strings.ToLower(p)
	if a.taken[key] {
		return ""
	}
	a.taken[key] = true
	return p
}

// withQualifier inserts "(qualifier)" before the extension of name
func withQualifier(name, qualifier string) string {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if base == "" {
		base, ext = name, ""
	}
	return fmt.Sprintf("%s (%s)%s", base, qualifier, ext)
}

// assignEvidencePaths sets the archive path of every evidence entry of one
// control. Entries whose file names collide are all qualified with their slot
// key so a path never depends on which slot was created first. Names already
// claimed by an earlier control in the same directory get a numeric suffix.
func assignEvidencePaths(alloc *pathAllocator, code string, entries []EvidenceEntry) {
	dir := path.Join(evidenceDir, SanitizeSegment(code, "control"))

	names := make([]string, len(entries))
	counts := make(map[string]int, len(entries))
	for i := range entries {
		names[i] = SanitizeSegment(entries[i].Filename, "evidence")
		counts[strings.ToLower(names[i])]++
	}
	for i := range entries {
		if counts[strings.ToLower(names[i])] > 1 {
			names[i] = withQualifier(names[i], SanitizeSegment(entries[i].SlotKey, "slot"))
		}
	}
	for i := range entries {
		p := alloc.claim(dir, names[i])
		for n := 2; p == ""; n++ {
			p = alloc.claim(dir, withQualifier(names[i], fmt.Sprint(n)))
		}
		entries[i].ArchivePath = p
	}
}

// assignPolicyPaths names policy documents policies/<title>.md
func assignPolicyPaths(alloc *pathAllocator, policies []PolicyEntry) {
	for i := range policies {
		name := SanitizeSegment(policies[i].Title, "policy")
		p := alloc.claim(policiesDir, name+".md")
		for n := 2; p == ""; n++ {
			p = alloc.claim(policiesDir, fmt.Sprintf("%s (%d).md", name, n))
		}
		policies[i].ArchivePath = p
	}
}

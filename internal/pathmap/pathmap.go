// Package pathmap translates Dropbox paths into local and Drive layouts.
//
// The source archive keeps deliverables under a marker folder (the "final
// cut" directory). Encoded copies are flattened into a single file name so
// they can live side by side in one "encoded" folder per lecture.
package pathmap

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// EncodedDirName is the Drive folder that holds re-encoded deliverables.
const EncodedDirName = "encoded"

// SplitParts breaks a Dropbox display path into its non-empty components.
func SplitParts(pathDisplay string) []string {
	raw := strings.Split(pathDisplay, "/")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// FlatName flattens a Dropbox file path into the encoded file name:
// every folder joined by "_", the final-cut marker dropped, extension
// forced to .mp4.
//
//	/디자인/그래픽디자인/MPC_A/최종편집영상/W1/2.mov
//	-> 디자인_그래픽디자인_MPC_A_W1_2.mp4
func FlatName(pathDisplay, finalCutDir string) string {
	parts := SplitParts(pathDisplay)
	if len(parts) == 0 {
		return ""
	}

	filename := parts[len(parts)-1]
	stem := strings.TrimSuffix(filename, path.Ext(filename))

	dirs := make([]string, 0, len(parts)-1)
	for _, d := range parts[:len(parts)-1] {
		if d != finalCutDir {
			dirs = append(dirs, d)
		}
	}

	return strings.Join(append(dirs, stem), "_") + ".mp4"
}

// EncodedFolderParts maps a Dropbox file path to the Drive folder holding its
// encoded copy: the path prefix before the final-cut marker plus "encoded".
func EncodedFolderParts(pathDisplay, finalCutDir string) ([]string, error) {
	parts := SplitParts(pathDisplay)
	for i, p := range parts {
		if p == finalCutDir {
			out := make([]string, 0, i+1)
			out = append(out, parts[:i]...)
			return append(out, EncodedDirName), nil
		}
	}
	return nil, fmt.Errorf("final-cut folder %q not in path: %s", finalCutDir, pathDisplay)
}

// RawFolderParts mirrors the Dropbox folder structure for the raw upload:
// every component except the file name.
func RawFolderParts(pathDisplay string) ([]string, error) {
	parts := SplitParts(pathDisplay)
	if len(parts) < 2 {
		return nil, fmt.Errorf("path too short: %s", pathDisplay)
	}
	return parts[:len(parts)-1], nil
}

// RawRelPath is the path relative to the Dropbox root of the share,
// i.e. the display path without its leading slash.
func RawRelPath(pathDisplay string) string {
	return strings.TrimPrefix(pathDisplay, "/")
}

// UnderFinalCut reports whether the path has a component equal to the
// final-cut marker.
func UnderFinalCut(pathDisplay, finalCutDir string) bool {
	for _, p := range SplitParts(pathDisplay) {
		if p == finalCutDir {
			return true
		}
	}
	return false
}

// NormalizeRelFolder collapses the "current directory" spellings a relative
// root can take into the canonical empty string.
func NormalizeRelFolder(folder string) string {
	switch folder {
	case "", ".", "./":
		return ""
	}
	return folder
}

// RelUnderRoot returns pathDisplay relative to root ("" for the root itself).
func RelUnderRoot(pathDisplay, root string) (string, error) {
	root = strings.TrimSuffix(root, "/")
	if pathDisplay == root {
		return "", nil
	}
	if !strings.HasPrefix(pathDisplay, root+"/") {
		return "", fmt.Errorf("%s is not under %s", pathDisplay, root)
	}
	return NormalizeRelFolder(strings.TrimPrefix(pathDisplay, root+"/")), nil
}

// ParentFolders lists every folder above a relative file path, root ("")
// included, in top-down order. "A/B/c.mp4" -> ["", "A", "A/B"].
func ParentFolders(relPath string) []string {
	folders := []string{""}
	parts := strings.Split(relPath, "/")
	if len(parts) < 2 {
		return folders
	}
	for i := 1; i < len(parts); i++ {
		folders = append(folders, strings.Join(parts[:i], "/"))
	}
	return folders
}

// Filter decides which Dropbox entries a job should ignore.
type Filter struct {
	// IncludeSubstr, when set, keeps only paths containing it.
	IncludeSubstr string
	// ExcludeSubstr, when set, drops paths containing it.
	ExcludeSubstr string
	// ClosedMarker, when set, drops discontinued-lecture paths.
	ClosedMarker string
	// SkipExts drops files with these extensions (lower-cased, with dot).
	SkipExts []string
}

// Skip reports whether the entry should be ignored.
func (f Filter) Skip(pathDisplay string) bool {
	if f.ClosedMarker != "" && strings.Contains(pathDisplay, f.ClosedMarker) {
		return true
	}
	if f.IncludeSubstr != "" && !strings.Contains(pathDisplay, f.IncludeSubstr) {
		return true
	}
	if f.ExcludeSubstr != "" && strings.Contains(pathDisplay, f.ExcludeSubstr) {
		return true
	}
	ext := strings.ToLower(path.Ext(pathDisplay))
	if ext != "" {
		for _, skip := range f.SkipExts {
			if ext == strings.ToLower(skip) {
				return true
			}
		}
	}
	return false
}

// HasExt reports whether the path carries one of the given extensions.
func HasExt(pathDisplay string, exts []string) bool {
	ext := strings.ToLower(path.Ext(pathDisplay))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// CompressTopFolders reduces a set of relative folders to the highest ones:
// a folder whose ancestor is already in the set is dropped. The root ("")
// subsumes everything.
func CompressTopFolders(folders map[string]bool) []string {
	normalized := make(map[string]bool, len(folders))
	for f := range folders {
		normalized[NormalizeRelFolder(f)] = true
	}

	ordered := make([]string, 0, len(normalized))
	for f := range normalized {
		ordered = append(ordered, f)
	}
	sort.Slice(ordered, func(i, j int) bool {
		di, dj := strings.Count(ordered[i], "/"), strings.Count(ordered[j], "/")
		if di != dj {
			return di < dj
		}
		return ordered[i] < ordered[j]
	})

	var kept []string
	for _, f := range ordered {
		covered := false
		for _, k := range kept {
			if k == "" || f == k || strings.HasPrefix(f, k+"/") {
				covered = true
				break
			}
		}
		if !covered {
			kept = append(kept, f)
		}
	}
	return kept
}

// Package batch runs many file transfers in parallel and aggregates their
// outcomes into a single Result.
package batch

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	ferr "dataferry/internal/errors"
	"dataferry/internal/upload"
	"dataferry/internal/verify"
)

const (
	SourceDirectory = "directory"
	SourceFileList  = "file_list"
)

// Request describes one batch. Exactly one of Directory and Files is set.
type Request struct {
	// ID names the batch; a random one is assigned when empty.
	ID           string
	Directory    string
	Files        []string
	Target       string
	SkipExisting bool
	Policy       verify.Policy
	// OnConflict decides what happens when the target dataset already has
	// objects. Nil proceeds.
	OnConflict ConflictResolver

	// TaskName and ExternalTaskID are passed to the tracker unchanged.
	TaskName       string
	ExternalTaskID int64
}

// InvalidFile is a listed file that was rejected before upload.
type InvalidFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

type sourceFile struct {
	path string
	rel  string
	size int64
}

type source struct {
	kind    string
	files   []sourceFile
	invalid []InvalidFile
	bytes   int64
}

// NormalizeTarget trims a dataset path and checks it has the group/name shape.
func NormalizeTarget(target string) (string, error) {
	t := strings.Trim(strings.TrimSpace(target), "/")
	if t == "" {
		return "", ferr.Errorf(ferr.ErrInvalidArgument, "target dataset path is required")
	}
	if !strings.Contains(t, "/") {
		return "", ferr.Errorf(ferr.ErrInvalidArgument, "target must contain at least one '/', e.g. a/b")
	}
	for _, seg := range strings.Split(t, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", ferr.Errorf(ferr.ErrInvalidArgument, "target %q has an empty or relative segment", target)
		}
	}
	return t, nil
}

func (r *Request) validate() error {
	hasDir := strings.TrimSpace(r.Directory) != ""
	switch {
	case hasDir && len(r.Files) > 0:
		return ferr.Errorf(ferr.ErrInvalidArgument, "directory and file list are mutually exclusive")
	case !hasDir && r.Files == nil:
		return ferr.Errorf(ferr.ErrInvalidArgument, "either a directory or a file list is required")
	case !hasDir && len(r.Files) == 0:
		return ferr.Errorf(ferr.ErrInvalidArgument, "file list is empty")
	}
	target, err := NormalizeTarget(r.Target)
	if err != nil {
		return err
	}
	r.Target = target
	if r.Policy == nil {
		r.Policy = verify.Size
	}
	return nil
}

func (r *Request) collect(filters []string) (*source, error) {
	if strings.TrimSpace(r.Directory) != "" {
		return collectDirectory(r.Directory, filters)
	}
	return collectFiles(r.Files, filters)
}

// collectDirectory walks dir and keeps the regular files that pass filters.
func collectDirectory(dir string, filters []string) (*source, error) {
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ferr.NewError("collect", ferr.ErrNotFound).WithPath(dir)
	}
	if err != nil {
		return nil, ferr.NewError("collect", err).WithPath(dir)
	}
	if !info.IsDir() {
		return nil, ferr.NewError("collect", ferr.Errorf(ferr.ErrInvalidArgument, "not a directory")).WithPath(dir)
	}

	src := &source{kind: SourceDirectory}
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || !upload.MatchFilters(filters, d.Name()) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		src.files = append(src.files, sourceFile{path: p, rel: filepath.ToSlash(rel), size: fi.Size()})
		src.bytes += fi.Size()
		return nil
	})
	if err != nil {
		return nil, ferr.NewError("collect", err).WithPath(dir)
	}
	if len(src.files) == 0 {
		return nil, ferr.NewError("collect", ferr.Errorf(ferr.ErrInvalidArgument, "no files match the configured filters")).WithPath(dir)
	}

	sort.Slice(src.files, func(i, j int) bool { return src.files[i].rel < src.files[j].rel })
	return src, nil
}

// collectFiles checks every listed path and reports the rejected ones.
func collectFiles(paths []string, filters []string) (*source, error) {
	src := &source{kind: SourceFileList}
	seen := make(map[string]bool)
	for _, p := range paths {
		fi, reason := checkListed(p, filters)
		if reason != "" {
			src.invalid = append(src.invalid, InvalidFile{Path: p, Reason: reason})
			continue
		}
		name := filepath.Base(p)
		if seen[name] {
			src.invalid = append(src.invalid, InvalidFile{Path: p, Reason: "duplicate file name in list"})
			continue
		}
		seen[name] = true
		src.files = append(src.files, sourceFile{path: p, rel: name, size: fi.Size()})
		src.bytes += fi.Size()
	}
	if len(src.files) == 0 {
		return src, ferr.Errorf(ferr.ErrInvalidArgument, "no valid files in list")
	}
	return src, nil
}

func checkListed(p string, filters []string) (os.FileInfo, string) {
	if strings.TrimSpace(p) == "" {
		return nil, "empty path"
	}
	fi, err := os.Stat(p)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, "file does not exist"
	case err != nil:
		return nil, err.Error()
	case !fi.Mode().IsRegular():
		return nil, "not a regular file"
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, "file is not readable"
	}
	f.Close()
	if fi.Size() == 0 {
		return nil, "file is empty"
	}
	if !upload.MatchFilters(filters, p) {
		return nil, "excluded by file filter"
	}
	return fi, ""
}

// objectKey joins the key root, dataset path and file-relative name.
func objectKey(root, target, rel string) string {
	return path.Join(root, target, rel)
}

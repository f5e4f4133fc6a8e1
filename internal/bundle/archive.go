// ABOUTME: Packs agent source into the gzipped tarball uploaded as inline source.
// ABOUTME: Output is deterministic: sorted members and fixed timestamps.

package bundle

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// skippedNames never ship: caches and local secrets.
var skippedNames = map[string]bool{
	"__pycache__": true,
	".git":        true,
	".env":        true,
}

// BuildArchive packs the given paths (files or directories, relative to root)
// plus a generated requirements file. It returns the archive and its members.
func BuildArchive(root string, paths, requirements []string) ([]byte, []string, error) {
	files := make(map[string]string)
	for _, p := range paths {
		if err := checkRelative(p); err != nil {
			return nil, nil, fmt.Errorf("package %q: %w", p, err)
		}
		if err := collect(root, filepath.Join(root, p), files); err != nil {
			return nil, nil, err
		}
	}

	names := make([]string, 0, len(files)+1)
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	reqs := []byte(strings.Join(requirements, "\n") + "\n")
	if err := writeMember(tw, RequirementsFile, reqs); err != nil {
		return nil, nil, err
	}
	for _, name := range names {
		data, err := os.ReadFile(files[name])
		if err != nil {
			return nil, nil, fmt.Errorf("reading %s: %w", name, err)
		}
		if err := writeMember(tw, name, data); err != nil {
			return nil, nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, nil, fmt.Errorf("closing tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, nil, fmt.Errorf("closing gzip: %w", err)
	}

	return buf.Bytes(), append([]string{RequirementsFile}, names...), nil
}

func collect(root, path string, files map[string]string) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walking %s: %w", p, err)
		}
		if skippedNames[d.Name()] && p != path {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = p
		return nil
	})
}

func writeMember(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(data)),
		ModTime:  time.Unix(0, 0).UTC(),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing header for %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package registry

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/datagate/datagate/gateway/gerr"
	"github.com/datagate/datagate/gateway/model"
)

// Export packs a namespace into a zip: its TOML file at the archive
// root and everything under the namespace directory (plugin configs,
// scripts) below a directory of the same name.
func (r *Registry) Export(namespace string) ([]byte, error) {
	ns, ok := r.Namespace(namespace)
	if !ok {
		return nil, gerr.NotFound.New("namespace %q", namespace)
	}

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	data, err := ns.Encode()
	if err != nil {
		return nil, err
	}
	file := ns.FileName
	if file == "" {
		file = ns.Name
	}
	entry, err := w.Create(file + ".toml")
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if _, err := entry.Write(data); err != nil {
		return nil, Error.Wrap(err)
	}

	nsDir := filepath.Join(r.dir, namespace)
	err = filepath.Walk(nsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(r.dir, path)
		if err != nil {
			return err
		}
		entry, err := w.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		_, err = io.Copy(entry, f)
		return err
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := w.Close(); err != nil {
		return nil, Error.Wrap(err)
	}
	return buf.Bytes(), nil
}

// Import unpacks an exported namespace archive into the model directory
// and loads the namespaces it declares. Every entry path is validated
// before anything is written.
func (r *Registry) Import(ctx context.Context, data []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return gerr.Malformed.Wrap(err)
	}

	var tomls []string
	for _, entry := range zr.File {
		if err := validateEntryName(entry.Name); err != nil {
			return err
		}
		if !strings.Contains(entry.Name, "/") && strings.HasSuffix(entry.Name, ".toml") {
			tomls = append(tomls, entry.Name)
		}
	}
	if len(tomls) == 0 {
		return gerr.Malformed.New("archive carries no namespace file")
	}

	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		target := filepath.Join(r.dir, filepath.FromSlash(entry.Name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return Error.Wrap(err)
		}
		src, err := entry.Open()
		if err != nil {
			return Error.Wrap(err)
		}
		dst, err := os.Create(target)
		if err != nil {
			_ = src.Close()
			return Error.Wrap(err)
		}
		_, err = io.Copy(dst, src)
		_ = src.Close()
		if closeErr := dst.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return Error.Wrap(err)
		}
	}

	for _, name := range tomls {
		ns, err := model.ParseFile(filepath.Join(r.dir, name))
		if err != nil {
			return err
		}
		if err := r.Add(ctx, ns); err != nil {
			return err
		}
	}
	return nil
}

// validateEntryName refuses archive paths that would escape the model
// directory.
func validateEntryName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return gerr.Malformed.New("archive entry %q has an invalid path", name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return gerr.Malformed.New("archive entry %q escapes the model directory", name)
		}
	}
	return nil
}

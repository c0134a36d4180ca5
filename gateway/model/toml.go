// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package model

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Parse decodes a namespace from TOML text.
func Parse(data []byte) (*Namespace, error) {
	var ns Namespace
	if err := toml.Unmarshal(data, &ns); err != nil {
		return nil, Error.Wrap(err)
	}
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	return &ns, nil
}

// ParseFile decodes a namespace from a TOML file. The file name becomes
// the namespace's FileName when the document does not carry one.
func ParseFile(path string) (*Namespace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	ns, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if ns.FileName == "" {
		ns.FileName = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return ns, nil
}

// Encode serialises the namespace back to TOML.
func (ns *Namespace) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(ns); err != nil {
		return nil, Error.Wrap(err)
	}
	return buf.Bytes(), nil
}

// SaveFile writes the namespace to dir as <file>.toml, creating the
// directory when needed.
func (ns *Namespace) SaveFile(dir string) error {
	data, err := ns.Encode()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Error.Wrap(err)
	}
	name := ns.FileName
	if name == "" {
		name = ns.Name
	}
	return Error.Wrap(os.WriteFile(filepath.Join(dir, name+".toml"), data, 0o644))
}

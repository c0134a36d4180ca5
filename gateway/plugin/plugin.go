// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

// Package plugin defines the contract protocol adapters implement and
// the installer registry the namespace registry instantiates them
// through. The core never links a concrete adapter; each registers an
// installer under its protocol name at init time.
package plugin

import (
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/datagate/datagate/gateway/invoke"
)

// Error is a plugin error.
var Error = errs.Class("plugin")

// Metadata describes one invocable entity a plugin exposes.
type Metadata struct {
	URI        string   `json:"uri"`
	Name       string   `json:"name"`
	Params     []string `json:"params"`
	ReturnVec  bool     `json:"return_vec"`
	ReturnPage bool     `json:"return_page"`
}

// Plugin is a protocol adapter bound into a namespace. Invocation URIs
// whose schema is neither object nor query route to the instance
// registered under protocol://namespace/name.
type Plugin interface {
	invoke.Invocation

	// Config returns the current configuration value.
	Config() any
	// ParseConfig replaces the configuration from a decoded value.
	ParseConfig(v any) error
	// SaveConfig persists the configuration to the given path.
	SaveConfig(path string) error

	// Metadata lists the entities the plugin exposes.
	Metadata() []Metadata
	// OpenAPI renders the plugin's API description for a namespace.
	OpenAPI(namespace string) (string, error)

	// HasPermission checks the caller against the plugin's own access
	// rules. Bypass skips the check for trusted internal callers.
	HasPermission(uri *invoke.URI, claims jwt.MapClaims, roles []string, bypass bool) bool

	// Close releases the adapter's resources.
	Close() error
}

// Installer instantiates an adapter from its on-disk configuration.
type Installer func(log *zap.Logger, namespace, name, configPath string) (Plugin, error)

// Installers maps protocol names to installers.
type Installers struct {
	mu         sync.RWMutex
	installers map[string]Installer
}

// NewInstallers creates an empty installer registry.
func NewInstallers() *Installers {
	return &Installers{installers: make(map[string]Installer)}
}

// Register associates a protocol name with an installer. Registering a
// protocol twice replaces the earlier installer.
func (r *Installers) Register(protocol string, installer Installer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.installers[protocol] = installer
}

// Lookup finds the installer for a protocol.
func (r *Installers) Lookup(protocol string) (Installer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	installer, ok := r.installers[protocol]
	return installer, ok
}

// Default is the process-wide installer registry adapters register into
// from init functions.
var Default = NewInstallers()

// Register adds an installer to the default registry.
func Register(protocol string, installer Installer) {
	Default.Register(protocol, installer)
}

// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

// Package gerr declares the error kinds shared by every part of the
// invocation engine. Callers classify with Class.Has and the HTTP
// adapter maps each kind to a status code.
package gerr

import "github.com/zeebo/errs"

var (
	// NotFound is returned for unknown URIs, namespaces, objects,
	// queries, plugins and methods.
	NotFound = errs.Class("not found")

	// Malformed is returned for un-parseable URIs, bodies and conditions.
	Malformed = errs.Class("malformed")

	// Validation is returned for missing primary keys, missing required
	// fields, empty mutation bodies and missing update_by/delete_by
	// conditions.
	Validation = errs.Class("validation")

	// AmbiguousUpsert is returned when an upsert condition matched more
	// than one row.
	AmbiguousUpsert = errs.Class("ambiguous upsert")

	// PermissionDenied is returned when a role or row-level check fails.
	PermissionDenied = errs.Class("permission denied")

	// Backend wraps database, cache and script failures.
	Backend = errs.Class("backend")

	// Timeout is returned when a worker-pool wait exceeds its deadline.
	Timeout = errs.Class("timeout")
)

// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package components implements the six workers of the PDF-to-Markdown
// pipeline (spec.md §4.3-§4.7): Analyzer, Coordinator, Splitting,
// Conversion, Markdown Storage, and Merger, plus the retry discipline they
// all share. Generalized from the teacher's single Coordinator/Worker pair,
// which this package's ComponentRole/Deps/newLogger replace with six
// interchangeably-shaped roles over the same shared-collaborator idiom.
package components

import (
	"github.com/google/uuid"

	"github.com/kbpipeline/pdfconvert/broker"
	"github.com/kbpipeline/pdfconvert/clog"
	"github.com/kbpipeline/pdfconvert/config"
	"github.com/kbpipeline/pdfconvert/item"
	"github.com/kbpipeline/pdfconvert/objectstore"
	"github.com/kbpipeline/pdfconvert/pdfconverter"
	"github.com/kbpipeline/pdfconvert/tracker"
)

// ComponentRole names one of the six worker roles, tagging its logger.
type ComponentRole string

const (
	RoleAnalyzer        ComponentRole = "analyzer"
	RoleCoordinator     ComponentRole = "coordinator"
	RoleSplitting       ComponentRole = "splitting"
	RoleConversion      ComponentRole = "conversion"
	RoleMarkdownStorage ComponentRole = "markdown-storage"
	RoleMerger          ComponentRole = "merger"
)

// Deps bundles the collaborators every worker needs. One Deps value is
// constructed per process and shared by the single worker type that
// process runs, mirroring how the teacher's NewWorker/NewCoordinator each
// built their own handful of shared collaborators once at construction.
type Deps struct {
	Broker    *broker.Adapter
	Tracker   tracker.Tracker
	Items     item.Store
	Objects   objectstore.Store
	Converter pdfconverter.Converter
	Cfg       config.Config
}

// newID returns a fresh identifier for a worker instance, as the teacher's
// NewWorker/NewCoordinator did with uuid.NewString.
func newID() string {
	return uuid.NewString()
}

// newLogger tags a conditional logger with role and id, the teacher's
// clog.New(role, id) idiom.
func newLogger(role ComponentRole, id string) *clog.CLogger {
	return clog.New(string(role), id)
}

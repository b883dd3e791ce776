// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package components

import (
	"context"
	"fmt"

	"github.com/kbpipeline/pdfconvert/broker"
	"github.com/kbpipeline/pdfconvert/config"
	"github.com/kbpipeline/pdfconvert/item"
	"github.com/kbpipeline/pdfconvert/objectstore"
	"github.com/kbpipeline/pdfconvert/pdfconverter"
	"github.com/kbpipeline/pdfconvert/tracker"
)

// NewDeps wires the collaborators a worker process needs from cfg,
// connecting the Broker Adapter and selecting the tracker backend named by
// cfg.TrackerBackend (spec.md §6.4). Callers own the returned Deps.Broker's
// lifetime and should Close it on shutdown.
func NewDeps(ctx context.Context, cfg config.Config, converterEndpoint string) (Deps, error) {
	adapter := broker.New(cfg.BrokerURL)
	if err := adapter.Connect(ctx); err != nil {
		return Deps{}, fmt.Errorf("bootstrap: connect broker: %w", err)
	}

	trk, err := newTracker(cfg)
	if err != nil {
		adapter.Close()
		return Deps{}, fmt.Errorf("bootstrap: build tracker: %w", err)
	}

	items, err := item.NewSQLiteStore(cfg.TrackerDSN)
	if err != nil {
		adapter.Close()
		return Deps{}, fmt.Errorf("bootstrap: build item store: %w", err)
	}

	objects, err := objectstore.NewFilesystemStore("./objectstore-data")
	if err != nil {
		adapter.Close()
		return Deps{}, fmt.Errorf("bootstrap: build object store: %w", err)
	}

	converter := pdfconverter.NewHTTPConverter(converterEndpoint, cfg.ConverterTimeout)

	return Deps{
		Broker:    adapter,
		Tracker:   trk,
		Items:     items,
		Objects:   objects,
		Converter: converter,
		Cfg:       cfg,
	}, nil
}

func newTracker(cfg config.Config) (tracker.Tracker, error) {
	switch cfg.TrackerBackend {
	case config.TrackerBackendSearchIndex:
		return tracker.NewSQLiteSearchIndex(cfg.TrackerDSN)
	default:
		return tracker.NewSQLiteDocument(cfg.TrackerDSN)
	}
}

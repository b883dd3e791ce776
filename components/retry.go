// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package components

import (
	"errors"

	"github.com/kbpipeline/pdfconvert/objectstore"
)

// ErrorKind classifies a failure for the retry decision of spec.md §7.
type ErrorKind int

const (
	// ErrTransient covers I/O and timeout failures that are expected to
	// clear on their own: broker hiccups, converter timeouts, object store
	// read errors.
	ErrTransient ErrorKind = iota
	// ErrBadInput covers failures caused by the input itself (a missing
	// item, a missing object, a corrupt PDF, a converter that reported
	// success=false) that retrying usually will not fix, but that get one
	// retry in case the failure was actually a race (e.g. the object
	// upload hadn't landed yet).
	ErrBadInput
	// ErrPoison covers a message that could not even be parsed or carries
	// an unknown event type; never retried, routed straight to the
	// dead-letter exchange by the Broker Adapter itself (see
	// broker.Adapter.handleDelivery).
	ErrPoison
	// ErrFatal covers failures the worker judges unrecoverable regardless
	// of retry count, e.g. a misconfigured dependency.
	ErrFatal
)

// decideRetry implements spec.md §7's pure retry decision: retryCount and
// maxRetries are read from the failed message's envelope; kind classifies
// why the step failed. It returns whether the step should be retried and,
// if so, the retryCount the republished message should carry (the caller
// is expected to get this from Envelope.Retried rather than compute it
// independently, but the pure rule is kept here so it can be unit tested
// without a broker).
func decideRetry(retryCount, maxRetries int, kind ErrorKind) (retry bool, nextRetryCount int) {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	switch kind {
	case ErrPoison, ErrFatal:
		return false, retryCount
	case ErrBadInput:
		// Retried exactly once, in case of races, then surfaced as a
		// terminal failure (spec.md §7).
		if retryCount >= 1 {
			return false, retryCount
		}
		return true, retryCount + 1
	default:
		if retryCount >= maxRetries {
			return false, retryCount
		}
		return true, retryCount + 1
	}
}

// classifyObjectErr classifies an object-store failure for the retry
// decision: a missing object is Bad Input, since retrying will not make a
// deleted or never-uploaded object reappear. Anything else (I/O errors,
// timeouts) is treated as transient.
func classifyObjectErr(err error) ErrorKind {
	var notFound *objectstore.ErrNotFound
	if errors.As(err, &notFound) {
		return ErrBadInput
	}
	return ErrTransient
}

// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package components

import (
	"errors"
	"fmt"
	"testing"

	"github.com/kbpipeline/pdfconvert/objectstore"
)

func TestDecideRetry(t *testing.T) {
	cases := []struct {
		name          string
		retryCount    int
		maxRetries    int
		kind          ErrorKind
		wantRetry     bool
		wantNextCount int
	}{
		{"transient below max retries", 0, 3, ErrTransient, true, 1},
		{"transient at max retries", 3, 3, ErrTransient, false, 3},
		{"transient above max retries", 4, 3, ErrTransient, false, 4},
		{"bad input retries once", 0, 3, ErrBadInput, true, 1},
		{"bad input stops after one retry", 1, 3, ErrBadInput, false, 1},
		{"poison never retries", 1, 3, ErrPoison, false, 1},
		{"fatal never retries", 0, 3, ErrFatal, false, 0},
		{"zero maxRetries defaults to 3", 0, 0, ErrTransient, true, 1},
		{"zero maxRetries defaults to 3 at boundary", 3, 0, ErrTransient, false, 3},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			retry, next := decideRetry(c.retryCount, c.maxRetries, c.kind)
			if retry != c.wantRetry {
				t.Errorf("retry = %v, want %v", retry, c.wantRetry)
			}
			if next != c.wantNextCount {
				t.Errorf("nextRetryCount = %d, want %d", next, c.wantNextCount)
			}
		})
	}
}

func TestClassifyObjectErr(t *testing.T) {
	notFound := &objectstore.ErrNotFound{Key: "items/x/source.pdf"}
	if got := classifyObjectErr(notFound); got != ErrBadInput {
		t.Errorf("classifyObjectErr(ErrNotFound) = %v, want ErrBadInput", got)
	}
	if got := classifyObjectErr(fmt.Errorf("objectstore: read x: %w", notFound)); got != ErrBadInput {
		t.Errorf("classifyObjectErr(wrapped ErrNotFound) = %v, want ErrBadInput", got)
	}
	if got := classifyObjectErr(errors.New("connection reset")); got != ErrTransient {
		t.Errorf("classifyObjectErr(other) = %v, want ErrTransient", got)
	}
}

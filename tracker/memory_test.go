// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package tracker

import "testing"

func TestMemoryBackendConformance(t *testing.T) {
	runConformance(t, func() Tracker { return NewMemory() })
}

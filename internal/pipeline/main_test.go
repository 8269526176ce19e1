// SPDX-License-Identifier: MIT

package pipeline

import (
	"testing"

	"go.uber.org/goleak"
)

// Every tick must wind down completely: no dispatch, delay or marker
// goroutine may survive a finished Run.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

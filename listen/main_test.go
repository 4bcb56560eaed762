// File: listen/main_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package listen

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

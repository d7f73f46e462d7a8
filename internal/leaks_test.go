package internal

import (
	"testing"

	"go.uber.org/goleak"
)

// The dashboard fans out with errgroup; every handler test must leave no
// goroutines behind.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

//go:build tools

package tools

// This package keeps track of tool dependencies, see:
// https://github.com/golang/go/issues/25922

import (
	_ "gotest.tools/gotestsum"
)

// Package test provides a thin suite wrapper shared by package-level tests
// across the module, so assertions (s.Equal, s.NoError, ...) read the same
// way whether the test lives in errors, config, or the broker packages.
package test

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

// Suite embeds testify's suite.Suite so assertions are available directly
// on the embedding struct (s.Equal, s.NoError, s.Contains, ...).
type Suite struct {
	suite.Suite
}

// NewSuite constructs a bare Suite for embedding in a package's test suite.
func NewSuite() *Suite {
	return &Suite{}
}

// Run runs s as a testify suite.
func Run(t *testing.T, s suite.TestingSuite) {
	suite.Run(t, s)
}

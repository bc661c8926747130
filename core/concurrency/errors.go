// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error helpers for the concurrency module.

package concurrency

import (
	"github.com/momentics/hioload-core/api"
	"github.com/momentics/hioload-core/report"
)

// misuse builds a misuse error, reports it and returns it.
func misuse(op string, sentinel error, msg string) error {
	return report.Fatal(api.NewMisuse(op, sentinel, msg).Relocate(1))
}

// osFailure builds an OS failure error carrying errno, reports it and returns it.
func osFailure(op, msg string, err error) error {
	return report.Fatal(api.NewOSError(op, msg, err).Relocate(1))
}

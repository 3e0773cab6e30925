// Package channel defines the long-running workers attached to the bus.
package channel

import "context"

// Adapter is one platform-facing worker. Run blocks until ctx is done or the
// worker fails.
type Adapter interface {
	Name() string
	Run(context.Context) error
}

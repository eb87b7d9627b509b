// Package iox holds small I/O helpers shared by the HTTP clients.
package iox

import "io"

// DiscardClose closes c and drops the error. It is meant for deferred
// closes of response bodies and test fixtures:
//
//	defer iox.DiscardClose(resp.Body)
func DiscardClose(c io.Closer) { _ = c.Close() }

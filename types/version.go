//nolint:revive // types is a common Go package naming convention
package types

// Version is the canonical labelreader version shared by every subcommand.
const Version = "0.3.0"

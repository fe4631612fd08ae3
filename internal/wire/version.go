// Package wire implements the low-level primitives of the entity stream
// format: the budgeted packet buffer, variable-length count coding, the
// property presence flags, and the partial-encode continuation state.
//
// The record layout itself lives with the entity codec; this package only
// guarantees the byte-level building blocks are stable across versions.
package wire

// Stream versions. The property order is append-only: fields introduced at
// version N are never read by decoders handling a stream older than N.
const (
	// VersionSplitMTU is the oldest stream we decode: records may span
	// packets via the continuation mechanism.
	VersionSplitMTU = 1

	// VersionHasLastSimulated adds the simulate-delta header field.
	VersionHasLastSimulated = 2

	// VersionHasMarketplaceID adds the marketplace id property payload.
	VersionHasMarketplaceID = 3

	CurrentVersion = VersionHasMarketplaceID
)

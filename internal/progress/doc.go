// Package progress converts worker stdout lines into job progress deltas.
//
// Workers report completion either through a structured beacon, a JSON
// object {"item_done": N} embedded anywhere in a line carrying the
// cumulative count of finished items, or implicitly through checkmark
// glyphs printed once per finished item. The first valid beacon makes
// beacons authoritative for the rest of the invocation and glyph counting
// is ignored from then on.
package progress

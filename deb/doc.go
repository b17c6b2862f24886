// Package deb reads and writes Debian binary packages as used by jailbreak
// package managers.
//
// A .deb is an ar archive holding a "debian-binary" marker, a control
// archive and exactly one data payload member (data.tar, optionally
// compressed). This package unpacks those members to disk without external
// tools, reads the control metadata, and can assemble packages from
// in-memory files, which the rest of the module uses to build fixtures.
package deb

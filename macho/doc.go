// Package macho reads and patches Mach-O executables, thin or fat.
//
// It only covers what dylib injection needs: slice enumeration, the CPU tag
// of each slice, listing dylib load commands and appending LC_LOAD_DYLIB
// commands into the padding that follows the existing load commands.
// Slices never grow, so fat offsets stay valid after patching.
package macho

// Package vm implements the Tern runtime.
//
// This package contains:
//   - Compact 32-bit slot values (IVal) and the reflective Object model
//   - Typed and wild heap regions with generational, refcounted handles
//   - The string interner
//   - Method tables, the registry and intrinsic method sets
//   - The stack machine, its opcode handlers and the runner
package vm

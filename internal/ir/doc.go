// Package ir provides the in-memory module representation that every
// quantization stage operates on.
//
// This package contains types and serialization only. All other internal
// packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - A Module has exactly one owner at a time. Stages mutate it in place;
//     Clone produces an independent deep copy when a side pipeline must not
//     observe those mutations.
//   - NO float literals in serialized form. Tensor data and float attributes
//     are carried as IEEE-754 bit patterns so GraphDef bytes are stable.
//   - Functions, ops and variables keep their slice order through every
//     pass, so two runs over the same input serialize identically.
//   - All JSON keys use snake_case
package ir

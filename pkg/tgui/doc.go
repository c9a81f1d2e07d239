// Package tgui provides small helpers for Telegram's HTML parse mode:
//   - Escaped inline markup (bold, italic, code, pre)
//   - Rune-safe truncation for captions and long fields
//
// Values of type H are already escaped and can be concatenated freely.
package tgui

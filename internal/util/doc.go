// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across rigrun-chat.
//
// # Key Functions
//
// String Utilities:
//   - TruncateWidth, PadWidth, StringWidth: column-aware layout helpers
//   - NormalizeInput: cleans editor text before it is submitted
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
package util

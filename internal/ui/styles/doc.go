// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling for rigrun-chat.
//
// All colors are lipgloss AdaptiveColors so one palette serves light and dark
// terminals. NewTheme resolves the background once (from configuration or
// by asking the terminal through termenv) and builds every style from the
// palette.
package styles

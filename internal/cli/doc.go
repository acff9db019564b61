// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the rigrun-chat command line.
//
// Commands:
//
//	rigrun-chat                   Start the chat TUI (same as "tui")
//	rigrun-chat tui               Start the chat TUI
//	rigrun-chat repl              Line-mode chat
//	rigrun-chat ask "question"    Ask once and stream the reply to stdout
//	rigrun-chat status            Check the backend and list its models
//	rigrun-chat config show       Print the effective configuration
//	rigrun-chat config path       Print the config file path
//	rigrun-chat config init       Write a default config file
//
// Global flags:
//
//	--config PATH       Use a specific config file
//	--provider NAME     ollama or openai
//	--url URL           Backend base URL
//	-m, --model NAME    Model name
//	--log-level LEVEL   debug, info, warn, error
//
// REPL commands:
//
//	/new, /n            Start a new conversation
//	/recall, /r         Put the last input back on the prompt
//	/history            Show the conversation so far
//	/model [name]       Show or switch the model
//	/help, /h           Show commands
//	/quit, /q           Exit
//	Ctrl+C              Cancel the reply being generated
//	Ctrl+D              Exit
package cli

// Package lua embeds the Lua scripts executed atomically inside Redis.
package lua

import "embed"

// Scripts holds every .lua file in this directory.
//
//go:embed *.lua
var Scripts embed.FS

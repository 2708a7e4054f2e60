// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

// Package _default includes all the backends, so they can be selected with SGPAR_BACKEND.
//
// To use it simply include:
//
//	import _ "github.com/sgpar/sgpar/backends/default"
package _default

import (
	_ "github.com/sgpar/sgpar/backends/notimplemented"
	_ "github.com/sgpar/sgpar/backends/offload"
	_ "github.com/sgpar/sgpar/backends/queue"
	_ "github.com/sgpar/sgpar/backends/simplego"
)

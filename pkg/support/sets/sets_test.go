// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := Make[string](4)
	assert.Len(t, s, 0)
	s.Insert("a", "b", "a")
	assert.Len(t, s, 2)
	assert.True(t, s.Has("a"))
	assert.False(t, s.Has("c"))

	s2 := MakeWith(3, 5)
	assert.True(t, s2.Has(5))
	assert.False(t, s2.Has(4))
}

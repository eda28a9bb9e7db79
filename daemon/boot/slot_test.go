// SPDX-License-Identifier: LGPL-3.0-or-later

package boot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotNames(t *testing.T) {
	assert.Equal(t, "dlc_a", SlotA.String())
	assert.Equal(t, "dlc_b", SlotB.String())
	assert.Equal(t, "a", SlotA.Suffix())
	assert.Equal(t, "b", SlotB.Suffix())
}

func TestOther(t *testing.T) {
	assert.Equal(t, SlotB, SlotA.Other())
	assert.Equal(t, SlotA, SlotB.Other())
}

func TestParse(t *testing.T) {
	for name, want := range map[string]Slot{
		"a": SlotA, "b": SlotB, "dlc_a": SlotA, "dlc_b": SlotB,
	} {
		got, err := Parse(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := Parse("c")
	assert.Error(t, err)
}

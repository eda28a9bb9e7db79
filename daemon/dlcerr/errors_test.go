// SPDX-License-Identifier: LGPL-3.0-or-later

package dlcerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNone, KindOf(nil))
	assert.Equal(t, KindBusy, KindOf(New(KindBusy, "install in progress")))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain error")))
}

func TestKindOfWrapped(t *testing.T) {
	inner := New(KindAllocation, "create image file")
	outer := fmt.Errorf("install: %w", inner)
	assert.Equal(t, KindAllocation, KindOf(outer))
}

func TestErrorIsMatchesByKind(t *testing.T) {
	err := Wrap(errors.New("disk full"), KindAllocation, "create image for DLC=%s", "sample-dlc")
	assert.True(t, errors.Is(err, New(KindAllocation, "")))
	assert.False(t, errors.Is(err, New(KindBusy, "")))
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(errors.New("permission denied"), KindInternal, "write pref")
	assert.Contains(t, err.Error(), "internal")
	assert.Contains(t, err.Error(), "write pref")
	assert.Contains(t, err.Error(), "permission denied")
}

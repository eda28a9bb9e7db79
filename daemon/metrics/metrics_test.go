// SPDX-License-Identifier: LGPL-3.0-or-later

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordInstallResult(t *testing.T) {
	before := testutil.ToFloat64(InstallResults.WithLabelValues("failure", "failed_to_verify_image"))
	RecordInstallResult(false, "failed_to_verify_image")
	after := testutil.ToFloat64(InstallResults.WithLabelValues("failure", "failed_to_verify_image"))
	assert.Equal(t, before+1, after)
}

func TestRecordUninstallResult(t *testing.T) {
	before := testutil.ToFloat64(UninstallResults.WithLabelValues("success", "none"))
	RecordUninstallResult(true, "none")
	after := testutil.ToFloat64(UninstallResults.WithLabelValues("success", "none"))
	assert.Equal(t, before+1, after)
}

func TestStateChangeCounter(t *testing.T) {
	before := testutil.ToFloat64(StateChanges.WithLabelValues("INSTALLED"))
	StateChanges.WithLabelValues("INSTALLED").Inc()
	after := testutil.ToFloat64(StateChanges.WithLabelValues("INSTALLED"))
	assert.Equal(t, before+1, after)
}

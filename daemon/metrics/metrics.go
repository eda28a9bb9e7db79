// SPDX-License-Identifier: LGPL-3.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InstallResults counts finished installs by outcome and error kind.
	InstallResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlcd_install_results_total",
			Help: "Total number of finished DLC installs",
		},
		[]string{"result", "error_kind"},
	)

	// UninstallResults counts finished uninstalls by outcome and error kind.
	UninstallResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlcd_uninstall_results_total",
			Help: "Total number of finished DLC uninstalls",
		},
		[]string{"result", "error_kind"},
	)

	// InstalledDlcs tracks the number of currently installed DLCs.
	InstalledDlcs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dlcd_installed_dlcs",
			Help: "Number of currently installed DLCs",
		},
	)

	// InstallProgress tracks per-DLC install progress.
	InstallProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dlcd_install_progress",
			Help: "Install progress of DLCs currently installing",
		},
		[]string{"id"},
	)

	// StateChanges counts state-change broadcasts by resulting status.
	StateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlcd_state_changes_total",
			Help: "Total number of DLC state-change broadcasts",
		},
		[]string{"status"},
	)

	// APIRequests counts HTTP API requests.
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlcd_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	// UpdaterStatuses counts observed updater status broadcasts.
	UpdaterStatuses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlcd_updater_statuses_total",
			Help: "Total number of updater status broadcasts observed",
		},
		[]string{"operation", "is_install"},
	)
)

// RecordInstallResult tallies one finished install.
func RecordInstallResult(success bool, errorKind string) {
	result := "success"
	if !success {
		result = "failure"
	}
	InstallResults.WithLabelValues(result, errorKind).Inc()
}

// RecordUninstallResult tallies one finished uninstall.
func RecordUninstallResult(success bool, errorKind string) {
	result := "success"
	if !success {
		result = "failure"
	}
	UninstallResults.WithLabelValues(result, errorKind).Inc()
}

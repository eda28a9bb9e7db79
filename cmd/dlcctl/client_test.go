// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dlcd/daemon/models"
)

func testClient(t *testing.T, handler http.Handler) *client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return newClient(strings.TrimPrefix(srv.URL, "http://"))
}

func TestClientState(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dlcs/sample-dlc/state", r.URL.Path)
		json.NewEncoder(w).Encode(models.DlcState{
			ID: "sample-dlc", Status: models.StatusInstalled,
		})
	}))

	state, err := c.state("sample-dlc")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInstalled, state.Status)
}

func TestClientSurfacesErrorKind(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{
			"error_kind": "busy",
			"message":    "install in flight",
		})
	}))

	err := c.uninstall("sample-dlc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "busy")
	assert.Contains(t, err.Error(), "install in flight")
}

func TestClientInstallPostsRequest(t *testing.T) {
	var got models.InstallRequest
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/install", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(models.DlcState{ID: got.ID, Status: models.StatusInstalling})
	}))

	reserve := true
	state, err := c.install(models.InstallRequest{
		ID: "sample-dlc", URL: "http://payloads.example", Reserve: &reserve,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInstalling, state.Status)
	assert.Equal(t, "sample-dlc", got.ID)
	assert.Equal(t, "http://payloads.example", got.URL)
	require.NotNil(t, got.Reserve)
	assert.True(t, *got.Reserve)
}

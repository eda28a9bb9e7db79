// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"dlcd/daemon/models"
	"dlcd/daemon/store"
)

// client is a thin HTTP client over the daemon's request adaptor.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(addr string) *client {
	return &client{
		baseURL: fmt.Sprintf("http://%s", addr),
		http:    &http.Client{Timeout: 90 * time.Second},
	}
}

type apiError struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrorKind, e.Message)
}

func (c *client) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("reach daemon: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.ErrorKind != "" {
			return &apiErr
		}
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

func (c *client) install(req models.InstallRequest) (models.DlcState, error) {
	var state models.DlcState
	err := c.do(http.MethodPost, "/install", req, &state)
	return state, err
}

func (c *client) uninstall(id string) error {
	return c.do(http.MethodPost, "/uninstall", map[string]string{"id": id}, nil)
}

func (c *client) purge(id string) error {
	return c.do(http.MethodPost, "/purge", map[string]string{"id": id}, nil)
}

func (c *client) deploy(id string) error {
	return c.do(http.MethodPost, "/deploy", map[string]string{"id": id}, nil)
}

func (c *client) unload(sel models.UnloadSelector) error {
	return c.do(http.MethodPost, "/unload", sel, nil)
}

func (c *client) state(id string) (models.DlcState, error) {
	var state models.DlcState
	err := c.do(http.MethodGet, "/dlcs/"+id+"/state", nil, &state)
	return state, err
}

func (c *client) installed() ([]models.DlcState, error) {
	var states []models.DlcState
	err := c.do(http.MethodGet, "/dlcs/installed", nil, &states)
	return states, err
}

func (c *client) existing() ([]models.ExistingDlc, error) {
	var existing []models.ExistingDlc
	err := c.do(http.MethodGet, "/dlcs/existing", nil, &existing)
	return existing, err
}

func (c *client) toUpdate() ([]string, error) {
	var ids []string
	err := c.do(http.MethodGet, "/dlcs/to-update", nil, &ids)
	return ids, err
}

func (c *client) history(id string, limit int) ([]store.Record, error) {
	path := fmt.Sprintf("/history?limit=%d", limit)
	if id != "" {
		path += "&id=" + id
	}
	var records []store.Record
	err := c.do(http.MethodGet, path, nil, &records)
	return records, err
}

// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package pdfconverter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// httpConverter is the reference Converter, calling a JSON HTTP endpoint.
type httpConverter struct {
	endpoint string
	client   *http.Client
}

// NewHTTPConverter returns a Converter posting to endpoint with timeout.
func NewHTTPConverter(endpoint string, timeout time.Duration) Converter {
	return &httpConverter{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

type convertRequest struct {
	URL string `json:"url"`
}

// convertResponse mirrors the converter's wire shape (spec.md §4.6.1): the
// "data" field is a discriminated union the spec deliberately leaves loose
// — a bare string, an object with "markdown", an object with "content", or
// (rarely) something else entirely — so it is decoded as json.RawMessage
// and resolved by decodeData below rather than a single fixed struct.
type convertResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	TaskID  string          `json:"taskId"`
	Error   string          `json:"error"`
}

func (c *httpConverter) ConvertFromUrl(ctx context.Context, presignedURL string) (Result, error) {
	body, err := json.Marshal(convertRequest{URL: presignedURL})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("pdfconverter: request: %w", err)
	}
	defer resp.Body.Close()

	var wire convertResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return Result{}, fmt.Errorf("pdfconverter: decode response: %w", err)
	}

	if resp.StatusCode >= 400 && wire.Error == "" {
		wire.Error = fmt.Sprintf("pdfconverter: http status %d", resp.StatusCode)
	}

	data, err := decodeData(wire.Data)
	if err != nil {
		return Result{}, err
	}

	return Result{Success: wire.Success, Data: data, TaskID: wire.TaskID, Error: wire.Error}, nil
}

// decodeData resolves the converter's discriminated "data" union per
// spec.md §9's design note on the converter payload: an absent or null
// field yields an empty string; a JSON string is used verbatim; an object
// carrying "markdown" or "content" yields that field's value; anything else
// is returned as its raw JSON text so no markdown conversion is ever
// silently dropped.
func decodeData(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}

	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asObject); err == nil {
		for _, key := range []string{"markdown", "content"} {
			if v, ok := asObject[key]; ok {
				var s string
				if err := json.Unmarshal(v, &s); err == nil {
					return s, nil
				}
				return string(v), nil
			}
		}
	}

	return string(raw), nil
}

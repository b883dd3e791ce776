// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package pdfconverter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDataPlainString(t *testing.T) {
	got, err := decodeData(json.RawMessage(`"# Title\n\nbody"`))
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nbody", got)
}

func TestDecodeDataMarkdownKey(t *testing.T) {
	got, err := decodeData(json.RawMessage(`{"markdown":"# From object"}`))
	require.NoError(t, err)
	assert.Equal(t, "# From object", got)
}

func TestDecodeDataContentKeyFallback(t *testing.T) {
	got, err := decodeData(json.RawMessage(`{"content":"# From content"}`))
	require.NoError(t, err)
	assert.Equal(t, "# From content", got)
}

func TestDecodeDataPrefersMarkdownOverContent(t *testing.T) {
	got, err := decodeData(json.RawMessage(`{"markdown":"m","content":"c"}`))
	require.NoError(t, err)
	assert.Equal(t, "m", got)
}

func TestDecodeDataUnrecognizedShapeFallsBackToRaw(t *testing.T) {
	got, err := decodeData(json.RawMessage(`{"unexpected":"shape"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"unexpected":"shape"}`, got)
}

func TestDecodeDataEmptyOrNull(t *testing.T) {
	got, err := decodeData(nil)
	require.NoError(t, err)
	assert.Equal(t, "", got)

	got, err = decodeData(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestHTTPConverterConvertFromUrl(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req convertRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://example.test/presigned", req.URL)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(convertResponse{
			Success: true,
			Data:    json.RawMessage(`{"markdown":"# Converted"}`),
			TaskID:  "task-1",
		})
	}))
	defer srv.Close()

	c := NewHTTPConverter(srv.URL, 5*time.Second)
	result, err := c.ConvertFromUrl(context.Background(), "https://example.test/presigned")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "# Converted", result.Data)
	assert.Equal(t, "task-1", result.TaskID)
}

func TestHTTPConverterSurfacesHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(convertResponse{Success: false})
	}))
	defer srv.Close()

	c := NewHTTPConverter(srv.URL, 5*time.Second)
	result, err := c.ConvertFromUrl(context.Background(), "https://example.test/presigned")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "500")
}

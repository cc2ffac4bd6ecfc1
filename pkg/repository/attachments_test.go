package repository

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/png", contentType("chat/c/1_logo.PNG"))
	assert.Equal(t, "application/pdf", contentType("chat/c/1_contract.pdf"))
	assert.Equal(t, "application/octet-stream", contentType("chat/c/1_noext"))
}

func TestS3Attachments_Upload(t *testing.T) {
	var (
		gotMethod string
		gotPath   string
		gotBody   []byte
		gotType   string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := NewS3Attachments(S3Config{
		Endpoint:        server.URL,
		Region:          "auto",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Bucket:          "chat-files",
		PublicURL:       "https://files.example.com/",
	})

	address, err := store.Upload(context.Background(), "chat/conv1/42_menu.pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)

	assert.Equal(t, "https://files.example.com/chat/conv1/42_menu.pdf", address)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/chat-files/chat/conv1/42_menu.pdf", gotPath)
	assert.Equal(t, "application/pdf", gotType)
	assert.Equal(t, []byte("%PDF-1.4"), gotBody)
}

func TestS3Attachments_UploadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	store := NewS3Attachments(S3Config{
		Endpoint:        server.URL,
		Region:          "auto",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Bucket:          "chat-files",
	})

	_, err := store.Upload(context.Background(), "chat/conv1/1_a.png", []byte{1})
	assert.Error(t, err)
}

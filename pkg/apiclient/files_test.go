package apiclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/files/dig-2031/raw/core.dat", r.URL.Path)

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(FileRecord{
			ID:        "file-123",
			ProjectID: "dig-2031",
			Path:      "raw/core.dat",
			Size:      2048,
			Checksum:  "md5:0123456789abcdef0123456789abcdef",
			StoredAt:  time.Now(),
		})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	record, err := client.StatFile("dig-2031", "raw/core.dat")

	require.NoError(t, err)
	assert.Equal(t, "file-123", record.ID)
	assert.Equal(t, int64(2048), record.Size)
}

func TestStatFile_PrefixAnswersListing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(FileList{
			Project: "dig-2031",
			Prefix:  "raw",
			Files:   []FileRecord{{ID: "file-123", Path: "raw/core.dat"}},
			Count:   1,
		})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	record, err := client.StatFile("dig-2031", "raw")

	assert.Nil(t, record)
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.True(t, apiErr.IsNotFound())
	assert.Contains(t, apiErr.Error(), "prefix")
}

func TestListFiles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/files/dig-2031/raw", r.URL.Path)

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(FileList{
			Project: "dig-2031",
			Prefix:  "raw",
			Files: []FileRecord{
				{ID: "1", Path: "raw/a.dat"},
				{ID: "2", Path: "raw/b.dat"},
			},
			Count: 2,
		})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	list, err := client.ListFiles("dig-2031", "raw")

	require.NoError(t, err)
	assert.Equal(t, 2, list.Count)
	assert.Len(t, list.Files, 2)
}

func TestListFiles_EmptyProject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/files/dig-2031/", r.URL.Path)

		// A project with no files lists as null, not [].
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"project":"dig-2031","prefix":"","files":null,"count":0}`))
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	list, err := client.ListFiles("dig-2031", "")

	require.NoError(t, err)
	assert.Equal(t, 0, list.Count)
	assert.NotNil(t, list.Files)
	assert.Empty(t, list.Files)
}

func TestListFiles_ExactFilePath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(FileRecord{
			ID:        "file-123",
			ProjectID: "dig-2031",
			Path:      "raw/core.dat",
			Size:      2048,
		})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	list, err := client.ListFiles("dig-2031", "raw/core.dat")

	require.NoError(t, err)
	assert.Equal(t, 1, list.Count)
	require.Len(t, list.Files, 1)
	assert.Equal(t, "file-123", list.Files[0].ID)
}

func TestUploadFile_Inline(t *testing.T) {
	body := "staged payload bytes"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/files/dig-2031/raw/core.dat", r.URL.Path)
		assert.Equal(t, "fe5d11098a9f0cedf48ab3bb35d8e1df", r.URL.Query().Get("md5"))
		assert.Equal(t, int64(len(body)), r.ContentLength)

		got, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, body, string(got))

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(FileRecord{
			ID:   "file-123",
			Path: "raw/core.dat",
			Size: int64(len(body)),
		})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	outcome, err := client.UploadFile(context.Background(), "dig-2031", "raw/core.dat",
		strings.NewReader(body), int64(len(body)), "md5:fe5d11098a9f0cedf48ab3bb35d8e1df")

	require.NoError(t, err)
	require.NotNil(t, outcome.Record)
	assert.Nil(t, outcome.Task)
	assert.Equal(t, "file-123", outcome.Record.ID)
}

func TestUploadFile_Async(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(AcceptedTask{
			TaskID:     "task-42",
			PollingURL: "/v1/tasks/task-42",
		})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	outcome, err := client.UploadFile(context.Background(), "dig-2031", "raw/big.dat",
		strings.NewReader("x"), 1, "")

	require.NoError(t, err)
	require.NotNil(t, outcome.Task)
	assert.Nil(t, outcome.Record)
	assert.Equal(t, "task-42", outcome.Task.TaskID)
}

func TestUploadFile_BareHexMeansMD5(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abcdef", r.URL.Query().Get("md5"))
		assert.Empty(t, r.URL.Query().Get("sha256"))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(FileRecord{ID: "f"})
	}))
	defer server.Close()

	client := New(server.URL)
	_, err := client.UploadFile(context.Background(), "p", "a.dat", strings.NewReader("x"), 1, "abcdef")
	require.NoError(t, err)
}

func TestUploadArchive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/archives/dig-2031", r.URL.Path)
		assert.Equal(t, "inbox", r.URL.Query().Get("dir"))
		assert.Equal(t, "deadbeef", r.URL.Query().Get("sha256"))

		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(AcceptedTask{TaskID: "task-7"})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	task, err := client.UploadArchive(context.Background(), "dig-2031", "inbox",
		strings.NewReader("PK..."), 5, "sha256:deadbeef")

	require.NoError(t, err)
	assert.Equal(t, "task-7", task.TaskID)
}

func TestDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("download"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("file content"))
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	rc, err := client.Download(context.Background(), "dig-2031", "raw/core.dat")
	require.NoError(t, err)
	defer rc.Close()

	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "file content", string(content))
}

func TestDownload_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(APIError{Title: "Not Found", Detail: "no file at raw/missing.dat"})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	rc, err := client.Download(context.Background(), "dig-2031", "raw/missing.dat")

	assert.Nil(t, rc)
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.True(t, apiErr.IsNotFound())
}

func TestRemoveFiles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v1/files/dig-2031/raw", r.URL.Path)

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(RemoveResult{Files: 3, Bytes: 6144})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	result, err := client.RemoveFiles("dig-2031", "raw")

	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Files)
	assert.Equal(t, int64(6144), result.Bytes)
}

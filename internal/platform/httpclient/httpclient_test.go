package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/echo":
			assert.Equal(t, "k", r.Header.Get("X-Api-Key"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			_, _ = w.Write([]byte(`{"ok":true}`))
		case "/empty":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("nope"))
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/", time.Second, WithHeader("X-Api-Key", "k"))
	require.NoError(t, err)

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, c.PostJSON(context.Background(), "echo", nil, map[string]string{"a": "b"}, &out))
	assert.True(t, out.OK)

	require.NoError(t, c.PostJSON(context.Background(), "/empty", nil, nil, &out))

	err = c.PostJSON(context.Background(), "/other", nil, nil, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.True(t, se.Unauthorized())
	assert.Equal(t, "nope", se.Body)
}

func TestNew(t *testing.T) {
	c, err := New("", 0)
	require.NoError(t, err)
	assert.Error(t, c.PostJSON(context.Background(), "/x", nil, nil, nil))

	_, err = New("::bad", 0)
	assert.Error(t, err)
}

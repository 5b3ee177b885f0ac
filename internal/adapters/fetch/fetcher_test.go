package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFetchReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.Header.Get("User-Agent"), "siteaudit")
		_, _ = w.Write([]byte("<html><title>Hi</title></html>"))
	}))
	defer srv.Close()

	f := New(2*time.Second, 0, nil)
	require.Equal(t, "<html><title>Hi</title></html>", f.Fetch(context.Background(), srv.URL, "Acme", "Springfield"))
}

func TestFetchKeepsErrorStatusBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("not here"))
	}))
	defer srv.Close()

	f := New(2*time.Second, 0, nil)
	require.Equal(t, "not here", f.Fetch(context.Background(), srv.URL, "Acme", "Springfield"))
}

func TestFetchCapsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 100)))
	}))
	defer srv.Close()

	f := New(2*time.Second, 10, nil)
	require.Len(t, f.Fetch(context.Background(), srv.URL, "Acme", "Springfield"), 10)
}

func TestFetchFallsBackWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	core, logs := observer.New(zap.WarnLevel)
	f := New(time.Second, 0, zap.New(core))
	got := f.Fetch(context.Background(), url, "Acme Plumbing", "Springfield")

	require.Contains(t, got, "<h1>Acme Plumbing</h1>")
	require.Contains(t, got, "Welcome to our service in Springfield.")
	require.Equal(t, 1, logs.Len())
}

func TestFetchFallsBackOnTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	f := New(50*time.Millisecond, 0, nil)
	require.Equal(t, Fallback("Acme", "Springfield"), f.Fetch(context.Background(), srv.URL, "Acme", "Springfield"))
}

func TestFallbackEscapesMarkup(t *testing.T) {
	got := Fallback("<b>Bob & Sons</b>", "Springfield")
	require.Contains(t, got, "&lt;b&gt;Bob &amp; Sons&lt;/b&gt;")
}

func TestFetchInvalidURLFallsBack(t *testing.T) {
	f := New(time.Second, 0, nil)
	require.Equal(t, Fallback("A", "B"), f.Fetch(context.Background(), "://bad", "A", "B"))
}

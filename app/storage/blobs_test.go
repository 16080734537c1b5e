package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"
)

func TestBlobStorePutAndDelete(t *testing.T) {
	store := NewBlobStore(t.TempDir(), http.DefaultClient, "test", 0)

	ref, err := store.Put(7, AreaImage, 42, "photo.jpg", strings.NewReader("jpeg"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if ref != "7/image/42/photo.jpg" {
		t.Errorf("Expected ref '7/image/42/photo.jpg', got '%s'", ref)
	}

	data, err := os.ReadFile(store.Path(ref))
	if err != nil {
		t.Fatalf("Failed to read blob: %v", err)
	}
	if string(data) != "jpeg" {
		t.Errorf("Expected blob content 'jpeg', got '%s'", data)
	}

	if err := store.DeleteItem(7, 42); err != nil {
		t.Fatalf("DeleteItem failed: %v", err)
	}
	if _, err := os.Stat(store.Path(ref)); !os.IsNotExist(err) {
		t.Errorf("Expected blob to be deleted, stat error: %v", err)
	}
}

func TestBlobStoreDuplicateNames(t *testing.T) {
	store := NewBlobStore(t.TempDir(), http.DefaultClient, "test", 0)

	first, err := store.Put(1, AreaAttachments, 1, "doc.pdf", strings.NewReader("a"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.Put(1, AreaAttachments, 1, "doc.pdf", strings.NewReader("b"))
	if err != nil {
		t.Fatal(err)
	}

	if first == second {
		t.Errorf("Expected distinct refs, both were '%s'", first)
	}
	if !strings.HasSuffix(second, "doc-1.pdf") {
		t.Errorf("Expected second ref to end with 'doc-1.pdf', got '%s'", second)
	}
}

func TestBlobStoreDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("png"))
	}))
	defer server.Close()

	store := NewBlobStore(t.TempDir(), server.Client(), "test", 0)

	ref, err := store.Download(context.Background(), 3, AreaImage, 9, server.URL+"/pic.png?size=large")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if ref != "3/image/9/pic.png" {
		t.Errorf("Expected ref '3/image/9/pic.png', got '%s'", ref)
	}

	if _, err := store.Download(context.Background(), 3, AreaImage, 9, server.URL+"/missing.png"); err == nil {
		t.Error("Expected error for missing blob")
	}
}

func TestBlobStorePathStaysInsideRoot(t *testing.T) {
	root := t.TempDir()
	store := NewBlobStore(root, http.DefaultClient, "test", 0)

	p := store.Path("../../etc/passwd")
	if !strings.HasPrefix(p, root) {
		t.Errorf("Expected path inside %s, got %s", root, p)
	}
}

func TestBlobStoreDownloadTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	store := NewBlobStore(t.TempDir(), &http.Client{}, "test", 100*time.Millisecond)

	start := time.Now()
	_, err := store.Download(context.Background(), 1, AreaImage, 1, server.URL+"/slow.png")
	if err == nil {
		t.Fatal("Expected error for hanging host")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Download took %v, expected it to stop at the timeout", elapsed)
	}
}

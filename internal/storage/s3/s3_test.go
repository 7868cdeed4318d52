package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	appconfig "github.com/object-log/object-log/internal/config"
	"github.com/object-log/object-log/internal/storage"
)

// ---------------------------------------------------------------------------
// New() constructor validation (no AWS connection required)
// ---------------------------------------------------------------------------

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  appconfig.S3StorageConfig
	}{
		{"missing bucket", appconfig.S3StorageConfig{Region: "us-east-1"}},
		{"missing region", appconfig.S3StorageConfig{Bucket: "archive"}},
		{"static without keys", appconfig.S3StorageConfig{Bucket: "archive", Region: "us-east-1", AuthMethod: "static"}},
		{"unsupported method", appconfig.S3StorageConfig{Bucket: "archive", Region: "us-east-1", AuthMethod: "kerberos"}},
		{"oidc without role", appconfig.S3StorageConfig{Bucket: "archive", Region: "us-east-1", AuthMethod: "oidc"}},
		{"oidc without token file", appconfig.S3StorageConfig{
			Bucket: "archive", Region: "us-east-1", AuthMethod: "oidc",
			RoleARN: "arn:aws:iam::123456789:role/archive",
		}},
		{"assume_role without role", appconfig.S3StorageConfig{Bucket: "archive", Region: "us-east-1", AuthMethod: "assume_role"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			if _, err := New(&cfg); err == nil {
				t.Error("New() = nil error, want error")
			}
		})
	}
}

func TestNew_StaticAuthInferredFromKeys(t *testing.T) {
	s, err := New(&appconfig.S3StorageConfig{
		Bucket:          "archive",
		Region:          "us-east-1",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Endpoint:        "http://localhost:9000",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if s.bucket != "archive" {
		t.Errorf("bucket = %q", s.bucket)
	}
}

func TestNew_AssumeRoleIsLazy(t *testing.T) {
	// AssumeRole only talks to STS when credentials are first needed.
	_, err := New(&appconfig.S3StorageConfig{
		Bucket:     "archive",
		Region:     "us-east-1",
		AuthMethod: "assume_role",
		RoleARN:    "arn:aws:iam::123456789:role/archive",
		ExternalID: "ext-123",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// In-memory S3 server (path-style) for operation tests
// ---------------------------------------------------------------------------

type fakeObject struct {
	data     []byte
	meta     map[string]string
	modified time.Time
}

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := strings.TrimPrefix(r.URL.Path, "/")
	idx := strings.IndexByte(p, '/')
	if idx < 0 {
		b.serveBucket(w, r)
		return
	}
	key := p[idx+1:]

	b.mu.Lock()
	defer b.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		meta := map[string]string{}
		for hk, hv := range r.Header {
			lk := strings.ToLower(hk)
			if strings.HasPrefix(lk, "x-amz-meta-") && len(hv) > 0 {
				meta[strings.TrimPrefix(lk, "x-amz-meta-")] = hv[0]
			}
		}
		b.objects[key] = fakeObject{data: data, meta: meta, modified: time.Now().UTC()}
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)

	case http.MethodGet:
		obj, ok := b.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(obj.data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(obj.data)

	case http.MethodHead:
		obj, ok := b.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(obj.data)))
		w.Header().Set("Last-Modified", obj.modified.Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)

	case http.MethodDelete:
		delete(b.objects, key)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (b *fakeBucket) serveBucket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || r.URL.Query().Get("list-type") != "2" {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	prefix := r.URL.Query().Get("prefix")

	b.mu.Lock()
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
	for _, k := range keys {
		obj := b.objects[k]
		fmt.Fprintf(w, `<Contents><Key>%s</Key><Size>%d</Size><LastModified>%s</LastModified></Contents>`,
			k, len(obj.data), obj.modified.Format(time.RFC3339))
	}
	fmt.Fprint(w, `</ListBucketResult>`)
	b.mu.Unlock()
}

// newTestStorage creates an S3Storage pointed at an in-memory bucket.
func newTestStorage(t *testing.T) (*S3Storage, *fakeBucket) {
	t.Helper()
	bucket := &fakeBucket{objects: map[string]fakeObject{}}
	srv := httptest.NewServer(bucket)
	t.Cleanup(srv.Close)

	s, err := New(&appconfig.S3StorageConfig{
		Bucket:          "archive",
		Region:          "us-east-1",
		AuthMethod:      "static",
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
		Endpoint:        srv.URL,
	})
	if err != nil {
		t.Fatalf("New() for fake S3: %v", err)
	}
	return s, bucket
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

func TestS3_UploadStoresChecksumMetadata(t *testing.T) {
	s, bucket := newTestStorage(t)

	data := []byte(`{"id":"1"}` + "\n")
	result, err := s.Upload(context.Background(), "objectlog/a.jsonl", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if result.Size != int64(len(data)) || len(result.Checksum) != 64 {
		t.Errorf("Upload() = %+v", result)
	}

	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	if got := bucket.objects["objectlog/a.jsonl"].meta["sha256"]; got != result.Checksum {
		t.Errorf("sha256 metadata = %q, want %q", got, result.Checksum)
	}
}

func TestS3_DownloadRoundTrip(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	want := []byte("archived lines")
	if _, err := s.Upload(ctx, "dl.jsonl", bytes.NewReader(want), int64(len(want))); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	rc, err := s.Download(ctx, "dl.jsonl")
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, want) {
		t.Errorf("Download() = %q, want %q", got, want)
	}
}

func TestS3_Download_NotFound(t *testing.T) {
	s, _ := newTestStorage(t)
	_, err := s.Download(context.Background(), "missing.jsonl")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Download() error = %v, want ErrNotFound", err)
	}
}

func TestS3_ExistsAndDelete(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "x.jsonl")
	if err != nil || ok {
		t.Fatalf("Exists() before upload = %v, %v; want false, nil", ok, err)
	}
	if _, err := s.Upload(ctx, "x.jsonl", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if ok, _ := s.Exists(ctx, "x.jsonl"); !ok {
		t.Fatal("Exists() = false after upload")
	}
	if err := s.Delete(ctx, "x.jsonl"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if ok, _ := s.Exists(ctx, "x.jsonl"); ok {
		t.Error("Exists() = true after delete")
	}
	if err := s.Delete(ctx, "x.jsonl"); err != nil {
		t.Errorf("second Delete() error = %v, want nil", err)
	}
}

func TestS3_ListSortedByPath(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	for _, p := range []string{"objectlog/b.jsonl", "objectlog/a.jsonl", "elsewhere/c.jsonl"} {
		if _, err := s.Upload(ctx, p, strings.NewReader("abc"), 3); err != nil {
			t.Fatalf("Upload(%s): %v", p, err)
		}
	}

	objects, err := s.List(ctx, "objectlog/")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(objects) != 2 {
		t.Fatalf("List() = %+v, want 2 objects", objects)
	}
	if objects[0].Path != "objectlog/a.jsonl" || objects[1].Path != "objectlog/b.jsonl" {
		t.Errorf("List() order = %s, %s", objects[0].Path, objects[1].Path)
	}
	if objects[0].Size != 3 || objects[0].LastModified.IsZero() {
		t.Errorf("objects[0] = %+v", objects[0])
	}
}

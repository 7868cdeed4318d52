package gcs

import (
	"testing"

	appconfig "github.com/object-log/object-log/internal/config"
)

// ---------------------------------------------------------------------------
// New() constructor validation (no GCS connection required)
// ---------------------------------------------------------------------------

func TestNew_MissingBucket(t *testing.T) {
	_, err := New(&appconfig.GCSStorageConfig{})
	if err == nil {
		t.Error("New() = nil error, want error for missing bucket")
	}
}

func TestNew_ServiceAccountNoCredentials(t *testing.T) {
	cfg := &appconfig.GCSStorageConfig{
		Bucket:     "archive",
		AuthMethod: "service_account",
	}
	if _, err := New(cfg); err == nil {
		t.Error("New() = nil error, want error for service_account without credentials")
	}
}

func TestNew_UnsupportedAuthMethod(t *testing.T) {
	cfg := &appconfig.GCSStorageConfig{
		Bucket:     "archive",
		AuthMethod: "not-a-valid-method",
	}
	if _, err := New(cfg); err == nil {
		t.Error("New() = nil error, want error for unsupported auth_method")
	}
}

func TestNew_CredentialsFileImpliesServiceAccount(t *testing.T) {
	// The client may or may not fail on a missing file depending on the SDK version;
	// either way the service account path must be taken without panicking.
	cfg := &appconfig.GCSStorageConfig{
		Bucket:          "archive",
		CredentialsFile: "/nonexistent/credentials.json",
	}
	s, err := New(cfg)
	if err == nil {
		defer s.Close()
		if s.bucket != "archive" {
			t.Errorf("bucket = %q", s.bucket)
		}
	}
}

package domain

import (
	"errors"
	"testing"
)

func TestSentinelHierarchy(t *testing.T) {
	tests := []struct {
		err  error
		base error
	}{
		{ErrLayerNotFound, ErrNotFound},
		{ErrInvalidCoordinate, ErrInvalidInput},
		{ErrDataDirectory, ErrInvalidInput},
		{ErrWorkerNotReady, ErrUnavailable},
		{ErrTerminated, ErrUnavailable},
		{ErrLookupTimeout, ErrTimeout},
		{ErrStartupTimeout, ErrTimeout},
	}

	for _, tt := range tests {
		if !errors.Is(tt.err, tt.base) {
			t.Errorf("%v should wrap %v", tt.err, tt.base)
		}
	}
}

func TestWorkerError(t *testing.T) {
	cause := errors.New("exit status 1")
	err := &WorkerError{Layer: "region", Op: "load", Err: cause}

	if got := err.Error(); got != "worker region: load: exit status 1" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("WorkerError should unwrap to its cause")
	}

	var we *WorkerError
	if !errors.As(error(err), &we) || we.Layer != "region" {
		t.Error("errors.As should find WorkerError")
	}
}

func TestStorageError(t *testing.T) {
	cause := errors.New("denied")

	withKey := &StorageError{Operation: "download", Key: "region.geojson", Err: cause}
	if got := withKey.Error(); got != "storage error during download for region.geojson: denied" {
		t.Errorf("Error() = %q", got)
	}

	withoutKey := &StorageError{Operation: "list", Err: cause}
	if got := withoutKey.Error(); got != "storage error during list: denied" {
		t.Errorf("Error() = %q", got)
	}

	if !errors.Is(withKey, cause) {
		t.Error("StorageError should unwrap to its cause")
	}
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{Field: "data.directory", Message: "required"}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ConfigError should unwrap to ErrInvalidInput")
	}
	if err.Error() == "" {
		t.Error("Error() should not be empty")
	}
}

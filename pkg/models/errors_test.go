package models

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
)

func TestConfigurationErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *ConfigurationError
		want string
	}{
		{
			name: "with value",
			err:  UnknownName("optimizer", "SGD", []string{"Adam", "RMSProp"}),
			want: `invalid optimizer "SGD": must be one of Adam, RMSProp`,
		},
		{
			name: "without value",
			err:  &ConfigurationError{Field: "learning_rate", Reason: "must be positive"},
			want: "invalid learning_rate: must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorsAsThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("build failed: %w", &StateError{Op: "run", State: RunStatusUnbuilt})

	var stateErr *StateError
	if !errors.As(wrapped, &stateErr) {
		t.Fatal("expected errors.As to find StateError")
	}
	if stateErr.Op != "run" {
		t.Errorf("expected op 'run', got %q", stateErr.Op)
	}
	if !strings.Contains(wrapped.Error(), "optimizer is unbuilt") {
		t.Errorf("unexpected message: %s", wrapped.Error())
	}
}

func TestRestoreErrorUnwrap(t *testing.T) {
	err := &RestoreError{Path: "/tmp/x/model.ckpt", Err: os.ErrNotExist}
	if !errors.Is(err, os.ErrNotExist) {
		t.Error("expected RestoreError to unwrap to os.ErrNotExist")
	}
	if !strings.Contains(err.Error(), "/tmp/x/model.ckpt") {
		t.Errorf("expected path in message, got %s", err.Error())
	}

	noPath := &RestoreError{Reason: "no checkpoint path known"}
	if noPath.Error() != "restore failed: no checkpoint path known" {
		t.Errorf("unexpected message: %s", noPath.Error())
	}
}

func TestShapeErrorMessage(t *testing.T) {
	err := &ShapeError{Fluent: "rlevel/1", Want: []int{8, 3}, Got: []int{8, 2}}
	want := "fluent rlevel/1: expected shape [8 3], got [8 2]"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	ErrNotFound    = errors.New("object not found")
	ErrInvalidName = errors.New("invalid object name")
)

// Storage holds finished recordings by name.
type Storage interface {
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	Stat(name string) (os.FileInfo, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// ValidateName rejects names that could escape the storage root.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`), strings.Contains(name, ".."):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

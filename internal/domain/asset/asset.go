package asset

import (
	"context"
	"errors"
	"io"
)

var (
	ErrUploadFailed = errors.New("asset upload failed")
	ErrEmptyFile    = errors.New("asset file is empty")
)

// Path prefixes under which banner images are stored
const (
	PrefixDesktop = "banners/desktop"
	PrefixMobile  = "banners/mobile"
)

// File is an image received from an administrator
type File struct {
	Name        string
	ContentType string
	Size        int64
	Content     io.Reader
}

// Location is where an uploaded file ended up
type Location struct {
	Filename string
	Prefix   string
	URL      string
}

// Storage is the image storage collaborator
type Storage interface {
	// Upload stores the file under pathPrefix and returns its location
	Upload(ctx context.Context, file *File, pathPrefix string) (*Location, error)

	// Remove deletes a stored file
	Remove(ctx context.Context, filename, pathPrefix string) error

	// URL returns the public address of a stored file
	URL(filename, pathPrefix string) string
}

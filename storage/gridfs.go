package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"widesquare/apperr"
)

var (
	// ErrNotFound signals that no stored file has the given id.
	ErrNotFound = fmt.Errorf("storage: file %w", apperr.ErrNotFound)
	// ErrUnavailable signals a failure talking to the object store.
	ErrUnavailable = fmt.Errorf("storage: %w", apperr.ErrStorage)
)

// Object is the (url, deletable id) handle returned for every stored file.
type Object struct {
	URL string
	ID  string
}

// Download is an open stored file.
type Download struct {
	io.ReadCloser
	Filename    string
	ContentType string
	Size        int64
}

// GridFSStore keeps images in a MongoDB GridFS bucket and serves them back
// through the API under <baseURL>/api/images/<id>.
type GridFSStore struct {
	bucket  *gridfs.Bucket
	baseURL string
}

// Connect opens a MongoDB client and verifies it with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("storage: mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("storage: mongo ping: %w", err)
	}
	return client, nil
}

// NewGridFSStore creates a store on the "images" bucket of db.
func NewGridFSStore(db *mongo.Database, baseURL string) (*GridFSStore, error) {
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName("images"))
	if err != nil {
		return nil, fmt.Errorf("storage: open bucket: %w", err)
	}
	return &GridFSStore{bucket: bucket, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Upload stores the contents of r under folder and returns its handle.
func (s *GridFSStore) Upload(ctx context.Context, r io.Reader, folder, filename string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}

	name := path.Join(folder, path.Base(filename))
	opts := options.GridFSUpload().SetMetadata(bson.D{
		{Key: "folder", Value: folder},
		{Key: "contentType", Value: contentTypeFor(filename)},
	})

	stream, err := s.bucket.OpenUploadStream(name, opts)
	if err != nil {
		return Object{}, fmt.Errorf("%w: open upload: %w", ErrUnavailable, err)
	}

	if _, err := io.Copy(stream, r); err != nil {
		_ = stream.Abort()
		return Object{}, fmt.Errorf("%w: write %s: %w", ErrUnavailable, name, err)
	}
	if err := stream.Close(); err != nil {
		return Object{}, fmt.Errorf("%w: close %s: %w", ErrUnavailable, name, err)
	}

	oid, ok := stream.FileID.(primitive.ObjectID)
	if !ok {
		return Object{}, fmt.Errorf("%w: unexpected file id type %T", ErrUnavailable, stream.FileID)
	}

	id := oid.Hex()
	return Object{URL: s.URLFor(id), ID: id}, nil
}

// Delete removes the stored file with the given id.
func (s *GridFSStore) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	if err := s.bucket.DeleteContext(ctx, oid); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: delete %s: %w", ErrUnavailable, id, err)
	}
	return nil
}

// Open returns a reader over the stored file. Callers must close it.
func (s *GridFSStore) Open(_ context.Context, id string) (*Download, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}

	stream, err := s.bucket.OpenDownloadStream(oid)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: open %s: %w", ErrUnavailable, id, err)
	}

	file := stream.GetFile()
	return &Download{
		ReadCloser:  stream,
		Filename:    path.Base(file.Name),
		ContentType: contentTypeFor(file.Name),
		Size:        file.Length,
	}, nil
}

// URLFor returns the public URL of a stored file id.
func (s *GridFSStore) URLFor(id string) string {
	return s.baseURL + "/api/images/" + id
}

func contentTypeFor(filename string) string {
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(filename))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

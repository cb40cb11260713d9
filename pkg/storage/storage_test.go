package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/angelmondragon/originhash-backend/pkg/config"
)

func TestCleanKey(t *testing.T) {
	cases := map[string]string{
		"certificates/cert-1.png":   "certificates/cert-1.png",
		"/certificates//cert-1.pdf": "certificates/cert-1.pdf",
		" a/./b ":                   "a/b",
	}
	for in, want := range cases {
		got, err := CleanKey(in)
		if err != nil {
			t.Fatalf("CleanKey(%q) error: %v", in, err)
		}
		if got != want {
			t.Fatalf("CleanKey(%q) = %q, want %q", in, got, want)
		}
	}
	for _, bad := range []string{"", "   ", "../etc/passwd", "a/../../b", "/"} {
		if _, err := CleanKey(bad); err == nil {
			t.Fatalf("expected CleanKey(%q) to fail", bad)
		}
	}
}

func TestLocalStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}

	key := "certificates/cert-abc.png"
	if ok, err := store.Exists(ctx, key); err != nil || ok {
		t.Fatalf("expected missing object, ok=%v err=%v", ok, err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	payload := []byte("png-bytes")
	if err := store.Put(ctx, key, "image/png", payload); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("unexpected payload %q", got)
	}
	if ok, err := store.Exists(ctx, key); err != nil || !ok {
		t.Fatalf("expected object to exist, ok=%v err=%v", ok, err)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}
	if err := store.Put(context.Background(), "../outside.png", "image/png", []byte("x")); err == nil {
		t.Fatal("expected traversal key to be rejected")
	}
}

func TestNewSelectsDriver(t *testing.T) {
	store, err := New(context.Background(), config.StorageConfig{Driver: "LOCAL", LocalDir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := store.(*Local); !ok {
		t.Fatalf("expected *Local, got %T", store)
	}
	if _, err := New(context.Background(), config.StorageConfig{Driver: "ftp"}, nil); err == nil {
		t.Fatal("expected unsupported driver to fail")
	}
}

type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func TestS3StoreMapsNotFound(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := &S3{client: fake, bucket: "certs"}

	if _, err := store.Get(ctx, "certificates/missing.pdf"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if ok, err := store.Exists(ctx, "certificates/missing.pdf"); err != nil || ok {
		t.Fatalf("expected missing object, ok=%v err=%v", ok, err)
	}

	if err := store.Put(ctx, "/certificates/cert-1.pdf", "application/pdf", []byte("%PDF")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if fake.types["certificates/cert-1.pdf"] != "application/pdf" {
		t.Fatalf("content type not forwarded: %v", fake.types)
	}
	data, err := store.Get(ctx, "certificates/cert-1.pdf")
	if err != nil || string(data) != "%PDF" {
		t.Fatalf("unexpected get result %q err=%v", data, err)
	}
	if err := store.Delete(ctx, "certificates/cert-1.pdf"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

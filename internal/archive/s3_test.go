package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"crepo/internal/cr"
)

type fakeObject struct {
	data     []byte
	metadata map[string]string
}

// fakeS3 is an in-memory bucket. Multipart calls are left to the embedded nil
// interface since snapshots in tests stay below the part size.
type fakeS3 struct {
	s3Client

	mu      sync.Mutex
	bucket  string
	objects map[string]fakeObject
	deletes int
}

func newFakeS3(bucket string) *fakeS3 {
	return &fakeS3{bucket: bucket, objects: make(map[string]fakeObject)}
}

func (f *fakeS3) checkBucket(b *string) error {
	if aws.ToString(b) != f.bucket {
		return &types.NoSuchBucket{}
	}
	return nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := f.checkBucket(in.Bucket); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = fakeObject{data: data, metadata: in.Metadata}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{Metadata: obj.metadata}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	f.deletes++
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if err := f.checkBucket(in.Bucket); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (f *fakeS3) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if err := f.checkBucket(in.Bucket); err != nil {
		return nil, err
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestS3Archive(t *testing.T) {
	testArchive(t, func(*testing.T) cr.Archive {
		return newS3Archive(newFakeS3("evidence"), "evidence", "crepo")
	})
}

func TestS3Archive_Keys(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "", want: "snapshots/snap.db"},
		{prefix: "crepo", want: "crepo/snapshots/snap.db"},
		{prefix: "/lab/crepo/", want: "lab/crepo/snapshots/snap.db"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("prefix %q", tt.prefix), func(t *testing.T) {
			fake := newFakeS3("evidence")
			a := newS3Archive(fake, "evidence", tt.prefix)
			if err := a.Put(context.Background(), "snap.db", strings.NewReader("data"), 4, 1006); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			keys := fake.keys()
			if len(keys) != 1 || keys[0] != tt.want {
				t.Errorf("object keys = %v, want [%s]", keys, tt.want)
			}
			if got := fake.objects[tt.want].metadata[versionMetadataKey]; got != "1006" {
				t.Errorf("version metadata = %q, want %q", got, "1006")
			}
		})
	}
}

func TestS3Archive_SizeMismatchDeletesObject(t *testing.T) {
	fake := newFakeS3("evidence")
	a := newS3Archive(fake, "evidence", "")
	if err := a.Put(context.Background(), "snap.db", strings.NewReader("abc"), 99, 1); err == nil {
		t.Fatal("Put() expected error for size mismatch")
	}
	if fake.deletes != 1 {
		t.Errorf("DeleteObject calls = %d, want 1", fake.deletes)
	}
	if keys := fake.keys(); len(keys) != 0 {
		t.Errorf("object keys = %v, want none", keys)
	}
}

func TestS3Archive_ListIgnoresForeignObjects(t *testing.T) {
	fake := newFakeS3("evidence")
	fake.objects["crepo/snapshots/a.db"] = fakeObject{data: []byte("x")}
	fake.objects["crepo/snapshots/.partial"] = fakeObject{data: []byte("x")}
	fake.objects["other/snapshots/b.db"] = fakeObject{data: []byte("x")}

	names, err := newS3Archive(fake, "evidence", "crepo").List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(names) != 1 || names[0] != "a.db" {
		t.Errorf("List() = %v, want [a.db]", names)
	}
}

func TestS3Archive_ValidateSetupMissingBucket(t *testing.T) {
	a := newS3Archive(newFakeS3("evidence"), "missing", "")
	if err := a.ValidateSetup(context.Background()); err == nil {
		t.Error("ValidateSetup() expected error for missing bucket")
	}
}

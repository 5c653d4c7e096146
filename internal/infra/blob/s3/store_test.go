package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"txcore/internal/blob/core"
)

type fakeObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
}

// fakeAPI is an in-memory bucket implementing API.
type fakeAPI struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	failPut error
	calls   []string
}

func newFakeAPI() *fakeAPI { return &fakeAPI{objects: make(map[string]fakeObject)} }

func (f *fakeAPI) record(op string) {
	f.calls = append(f.calls, op)
}

func (f *fakeAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("put")
	if f.failPut != nil {
		return nil, f.failPut
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = fakeObject{
		body:        b,
		contentType: aws.ToString(in.ContentType),
		metadata:    in.Metadata,
		modified:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeAPI) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("get")
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.body)),
		ContentLength: aws.Int64(int64(len(obj.body))),
		ContentType:   aws.String(obj.contentType),
		Metadata:      obj.metadata,
		LastModified:  aws.Time(obj.modified),
	}, nil
}

func (f *fakeAPI) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("head")
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.body))),
		ContentType:   aws.String(obj.contentType),
		Metadata:      obj.metadata,
		LastModified:  aws.Time(obj.modified),
	}, nil
}

func (f *fakeAPI) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete")
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeAPI) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list")
	prefix := aws.ToString(in.Prefix)
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		obj := f.objects[k]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(obj.body))),
			LastModified: aws.Time(obj.modified),
		})
	}
	return out, nil
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	store := NewWithAPI(api, "snapshots")
	if store.Driver() != core.DriverS3 || store.Bucket() != "snapshots" {
		t.Fatalf("unexpected identity %s %s", store.Driver(), store.Bucket())
	}

	info, err := store.Put(ctx, "tx/a.json", strings.NewReader("{}"), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"levels": "2"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 2 || info.ContentType != "application/json" || info.Metadata["levels"] != "2" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "tx/a.json", strings.NewReader("{}"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	_, rc, err := store.Get(ctx, "tx/a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "{}" {
		t.Fatalf("unexpected body %q", body)
	}

	if _, err := store.Put(ctx, "tx/b.json", strings.NewReader("[]"), core.PutOptions{}); err != nil {
		t.Fatalf("put b: %v", err)
	}
	if _, err := store.Put(ctx, "other/c.json", strings.NewReader("1"), core.PutOptions{}); err != nil {
		t.Fatalf("put c: %v", err)
	}
	list, err := store.List(ctx, "tx/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "tx/a.json" || list[1].Key != "tx/b.json" {
		t.Fatalf("expected sorted prefix listing, got %+v", list)
	}

	existed, err := store.Delete(ctx, "tx/a.json")
	if err != nil || !existed {
		t.Fatalf("delete: %v %v", existed, err)
	}
	existed, err = store.Delete(ctx, "tx/a.json")
	if err != nil || existed {
		t.Fatalf("second delete should report missing: %v %v", existed, err)
	}
	if _, _, err := store.Get(ctx, "tx/a.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
	if _, err := store.Head(ctx, "tx/a.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from head, got %v", err)
	}
}

func TestStorePutErrors(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	store := NewWithAPI(api, "b")
	if _, err := store.Put(ctx, " ", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	api.failPut = errors.New("boom")
	if _, err := store.Put(ctx, "k", strings.NewReader("x"), core.PutOptions{}); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected wrapped put failure, got %v", err)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
}

func TestNewBuildsClient(t *testing.T) {
	store, err := New(context.Background(), Config{
		Bucket:          "b",
		Endpoint:        "http://127.0.0.1:9000",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "secret",
		PathStyle:       true,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := store.api.(*s3.Client); !ok {
		t.Fatalf("expected sdk client, got %T", store.api)
	}
}

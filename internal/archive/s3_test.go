package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// apiError implements smithy.APIError.
type apiError struct {
	code string
}

func (e *apiError) Error() string                 { return e.code }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.code }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

// mockS3 is an in-memory bucket that pages listings by pageSize keys.
type mockS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	pageSize int
	listed   int
	putErr   error
}

func newMockS3(pageSize int) *mockS3 {
	return &mockS3{objects: make(map[string][]byte), pageSize: pageSize}
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &apiError{code: "NoSuchKey"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listed++

	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) && key > aws.ToString(in.ContinuationToken) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)

	out := &s3.ListObjectsV2Output{}
	if len(keys) > m.pageSize {
		keys = keys[:m.pageSize]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	for _, key := range keys {
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(key),
			Size: aws.Int64(int64(len(m.objects[key]))),
		})
	}
	return out, nil
}

func TestS3StorePutGetList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newMockS3(2)
	store, err := NewS3(client, "bucket", "/mimic/")
	if err != nil {
		t.Fatalf("NewS3 failed: %v", err)
	}

	var ids []string
	for _, payload := range []string{"one", "two", "three", "four", "five"} {
		record, err := store.Put(ctx, []byte(payload))
		if err != nil {
			t.Fatalf("Put %s failed: %v", payload, err)
		}
		ids = append(ids, record.ID)
	}
	client.objects["mimic/notes.txt"] = []byte("ignored")
	client.objects["mimic/nested/"+ids[0]+".msgpack"] = []byte("ignored")

	if _, ok := client.objects["mimic/"+ids[0]+".msgpack"]; !ok {
		t.Fatalf("object keys = %v, want prefix/id.msgpack", slices.Collect(maps.Keys(client.objects)))
	}

	records, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != len(ids) {
		t.Fatalf("List len = %d, want %d", len(records), len(ids))
	}
	for index, record := range records {
		if want := ids[len(ids)-1-index]; record.ID != want {
			t.Fatalf("List[%d] = %s, want %s", index, record.ID, want)
		}
	}
	if client.listed < 3 {
		t.Fatalf("ListObjectsV2 calls = %d, want pagination", client.listed)
	}

	latest, blob, err := store.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.ID != ids[4] || string(blob) != "five" {
		t.Fatalf("Latest = %s %q, want %s %q", latest.ID, blob, ids[4], "five")
	}

	blob, err = store.Get(ctx, ids[1])
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(blob) != "two" {
		t.Fatalf("Get = %q, want %q", blob, "two")
	}
}

func TestS3StoreErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newMockS3(10)
	store, err := NewS3(client, "bucket", "")
	if err != nil {
		t.Fatalf("NewS3 failed: %v", err)
	}

	if _, _, err := store.Latest(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Latest on empty error = %v, want ErrNotFound", err)
	}
	if _, err := store.Get(ctx, "01890a5d-ac96-774b-bcce-b302099a8057"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing error = %v, want ErrNotFound", err)
	}
	if _, err := store.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get invalid error = %v, want ErrNotFound", err)
	}

	client.putErr = &apiError{code: "AccessDenied"}
	if _, err := store.Put(ctx, []byte("x")); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("Put error = %v, want access denied", err)
	}

	if _, err := NewS3(nil, "bucket", ""); err == nil {
		t.Fatal("NewS3 nil client succeeded")
	}
	if _, err := NewS3(client, "", ""); err == nil {
		t.Fatal("NewS3 empty bucket succeeded")
	}
}

func TestIsS3NotFound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "no such key", err: &apiError{code: "NoSuchKey"}, want: true},
		{name: "not found", err: &apiError{code: "NotFound"}, want: true},
		{name: "access denied", err: &apiError{code: "AccessDenied"}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
	}
	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := isS3NotFound(testCase.err); got != testCase.want {
				t.Fatalf("isS3NotFound = %v, want %v", got, testCase.want)
			}
		})
	}
}

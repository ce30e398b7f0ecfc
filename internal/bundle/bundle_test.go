package bundle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"slices"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"go.uber.org/goleak"

	"github.com/keithlinneman/linnemanlabs-materializer/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-materializer/internal/log"
)

const (
	testBucket   = "test-bucket"
	testPrefix   = "manifests/bundles"
	testSSMParam = "/materializer/manifest/current"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSSM struct {
	mu    sync.Mutex
	value string
	err   error
	calls int
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Name: in.Name, Value: aws.String(f.value)}}, nil
}

func (f *fakeSSM) set(value string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value, f.err = value, err
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	gets    []string
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	f.gets = append(f.gets, key)
	data, ok := f.objects[key]
	if !ok || aws.ToString(in.Bucket) != testBucket {
		return nil, &s3types.NoSuchKey{Message: aws.String(key)}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) put(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
}

// putBundle stores data under its content hash and returns the hash.
func (f *fakeS3) putBundle(data []byte) string {
	hash := cryptoutil.SHA256Hex(data)
	f.put(testPrefix+"/"+hash+".tar.gz", data)
	return hash
}

// makeTarGz builds a .tar.gz in memory with files in sorted name order.
func makeTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		content := files[name]
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o640, Size: int64(len(content)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatalf("write tar header %q: %v", name, err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write tar content %q: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

// makeTarGzHeaders builds a .tar.gz from raw headers with empty bodies.
func makeTarGzHeaders(t *testing.T, hdrs ...*tar.Header) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for _, h := range hdrs {
		if err := tw.WriteHeader(h); err != nil {
			t.Fatalf("write tar header %q: %v", h.Name, err)
		}
	}
	tw.Close()
	gw.Close()
	return buf.Bytes()
}

func newTestLoader(t *testing.T, s3c *fakeS3, ssmc *fakeSSM, mutate ...func(*LoaderOptions)) *Loader {
	t.Helper()
	opts := LoaderOptions{
		Logger:    log.Nop(),
		SSMParam:  testSSMParam,
		S3Bucket:  testBucket,
		S3Prefix:  testPrefix,
		SSMClient: ssmc,
		S3Client:  s3c,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	l, err := NewLoader(opts)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	return l
}

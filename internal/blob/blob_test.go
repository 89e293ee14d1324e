package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	"lettertrack/internal/config"
)

type fakeS3 struct {
	in      *s3.PutObjectInput
	body    string
	deleted []string
	err     error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	b, _ := io.ReadAll(in.Body)
	f.body = string(b)
	return &s3.PutObjectOutput{}, f.err
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, f.err
}

func TestMemoryPutAndGet(t *testing.T) {
	m := NewMemory("")
	obj, err := m.Put(context.Background(), "r1/1-letter.pdf", "application/pdf", []byte("%PDF"))
	require.NoError(t, err)
	require.Equal(t, "memory://r1/1-letter.pdf", obj.URL)
	require.EqualValues(t, 4, obj.Size)
	b, ok := m.Get("r1/1-letter.pdf")
	require.True(t, ok)
	require.Equal(t, "%PDF", string(b))

	_, err = m.Put(context.Background(), "", "", nil)
	require.Error(t, err)

	require.Equal(t, []string{"r1/1-letter.pdf"}, m.Keys())
	require.NoError(t, m.Delete(context.Background(), "r1/1-letter.pdf"))
	require.Empty(t, m.Keys())
	_, ok = m.Get("r1/1-letter.pdf")
	require.False(t, ok)
	require.NoError(t, m.Delete(context.Background(), "r1/1-letter.pdf"))
}

func TestS3PutUsesPrefixAndPublicURL(t *testing.T) {
	f := &fakeS3{}
	s := &S3{client: f, bucket: "letters", prefix: "reports", baseURL: "https://cdn.example.org/"}
	obj, err := s.Put(context.Background(), "r1/1-a.pdf", "application/pdf", []byte("abc"))
	require.NoError(t, err)
	require.Equal(t, "reports/r1/1-a.pdf", aws.ToString(f.in.Key))
	require.Equal(t, "letters", aws.ToString(f.in.Bucket))
	require.Equal(t, "application/pdf", aws.ToString(f.in.ContentType))
	require.EqualValues(t, 3, aws.ToInt64(f.in.ContentLength))
	require.Equal(t, "abc", f.body)
	require.Equal(t, "https://cdn.example.org/reports/r1/1-a.pdf", obj.URL)

	require.NoError(t, s.Delete(context.Background(), obj.Key))
	require.Equal(t, []string{"reports/r1/1-a.pdf"}, f.deleted)
}

func TestS3PutWrapsError(t *testing.T) {
	s := &S3{client: &fakeS3{err: errors.New("denied")}, bucket: "letters"}
	_, err := s.Put(context.Background(), "k", "", []byte("x"))
	require.ErrorContains(t, err, "denied")
}

func TestNewSelectsDriver(t *testing.T) {
	st, err := New(context.Background(), config.BlobConfig{Driver: "memory"})
	require.NoError(t, err)
	require.IsType(t, &Memory{}, st)
	_, err = New(context.Background(), config.BlobConfig{Driver: "ftp"})
	require.Error(t, err)
}

func TestReadAllLimit(t *testing.T) {
	b, err := ReadAll(strings.NewReader("hello"), 5)
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))
	_, err = ReadAll(strings.NewReader("hello!"), 5)
	require.Error(t, err)
}

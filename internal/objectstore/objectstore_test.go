package objectstore

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresignPut(t *testing.T) {
	p, err := New(context.Background(), Config{
		Endpoint:        "https://s3.us-west-004.backblazeb2.com",
		Region:          "us-west-004",
		AccessKeyID:     "key-id",
		SecretAccessKey: "application-key",
		Bucket:          "evidence-bucket",
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	raw, err := p.PresignPut(context.Background(), "evidence/7/1700000000000-drone.mp4", "video/mp4", 10*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "s3.us-west-004.backblazeb2.com", u.Host)
	assert.Equal(t, "/evidence-bucket/evidence/7/1700000000000-drone.mp4", u.Path)
	q := u.Query()
	assert.Equal(t, "600", q.Get("X-Amz-Expires"))
	assert.True(t, strings.HasPrefix(q.Get("X-Amz-Credential"), "key-id/"))
	assert.Contains(t, q.Get("X-Amz-SignedHeaders"), "content-type")
}

func TestNewRequiresBucketAndCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{AccessKeyID: "a", SecretAccessKey: "b"})
	assert.Error(t, err)
	_, err = New(context.Background(), Config{Bucket: "b"})
	assert.Error(t, err)
}

type failingPresigner struct{}

func (failingPresigner) PresignPutObject(context.Context, *s3.PutObjectInput, ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return nil, errors.New("signer unavailable")
}

func TestPresignPutWrapsErrors(t *testing.T) {
	p := &Presigner{client: failingPresigner{}, bucket: "b"}
	_, err := p.PresignPut(context.Background(), "k", "image/png", time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "presign put k")
}

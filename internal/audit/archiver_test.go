package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewS3ArchiverValidatesConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  S3Config
	}{
		{"missing endpoint", S3Config{AccessKey: "a", SecretKey: "b", Bucket: "c"}},
		{"missing access key", S3Config{Endpoint: "localhost:9000", SecretKey: "b", Bucket: "c"}},
		{"missing secret key", S3Config{Endpoint: "localhost:9000", AccessKey: "a", Bucket: "c"}},
		{"missing bucket", S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewS3Archiver(tc.cfg)
			assert.Error(t, err)
		})
	}
}

func TestNewS3ArchiverDefaultsRegion(t *testing.T) {
	a, err := NewS3Archiver(S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "bucket"})
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", a.region)
}

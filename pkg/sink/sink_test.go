package sink

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsS3Destination(t *testing.T) {
	assert.True(t, IsS3Destination("s3://bucket/prefix"))
	assert.True(t, IsS3Destination("s3://bucket"))
	assert.False(t, IsS3Destination("out/cards"))
	assert.False(t, IsS3Destination("/abs/path"))
	assert.False(t, IsS3Destination("S3://bucket"))
}

func TestSplitS3Destination(t *testing.T) {
	tests := []struct {
		name       string
		dest       string
		wantBucket string
		wantPrefix string
		wantErr    bool
	}{
		{name: "bucket and prefix", dest: "s3://cards/runs/2026", wantBucket: "cards", wantPrefix: "runs/2026"},
		{name: "bucket only", dest: "s3://cards", wantBucket: "cards"},
		{name: "trailing slash trimmed", dest: "s3://cards/runs/", wantBucket: "cards", wantPrefix: "runs"},
		{name: "not s3", dest: "out/cards", wantErr: true},
		{name: "no bucket", dest: "s3:///prefix", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, prefix, err := SplitS3Destination(tt.dest)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantPrefix, prefix)
		})
	}
}

func TestSinkError(t *testing.T) {
	cause := errors.New("disk full")

	withName := &SinkError{Op: "Put", Name: "ada.png", Err: cause}
	assert.Equal(t, "sink Put: ada.png: disk full", withName.Error())
	assert.ErrorIs(t, withName, cause)

	noName := &SinkError{Op: "Close", Err: cause}
	assert.Equal(t, "sink Close: disk full", noName.Error())
}

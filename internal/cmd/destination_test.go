package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/meshport/internal/config"
	"github.com/3leaps/meshport/pkg/sink"
	"github.com/3leaps/meshport/pkg/sink/file"
)

func TestParseDestination(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
		want    *Destination
	}{
		{
			name: "relative directory",
			raw:  "./models",
			want: &Destination{Kind: sink.KindFile, Dir: "./models"},
		},
		{
			name: "file uri",
			raw:  "file:///srv/models",
			want: &Destination{Kind: sink.KindFile, Dir: "/srv/models"},
		},
		{
			name: "bucket root",
			raw:  "s3://models",
			want: &Destination{Kind: sink.KindS3, Bucket: "models"},
		},
		{
			name: "bucket with prefix",
			raw:  "s3://models/chairs/",
			want: &Destination{Kind: sink.KindS3, Bucket: "models", Prefix: "chairs/"},
		},
		{
			name: "prefix without trailing slash",
			raw:  "s3://models/chairs",
			want: &Destination{Kind: sink.KindS3, Bucket: "models", Prefix: "chairs/"},
		},
		{
			name: "scheme is case insensitive",
			raw:  "S3://models/x/",
			want: &Destination{Kind: sink.KindS3, Bucket: "models", Prefix: "x/"},
		},
		{
			name:    "empty",
			raw:     "  ",
			wantErr: ErrInvalidDestination,
		},
		{
			name:    "empty file uri",
			raw:     "file://",
			wantErr: ErrInvalidDestination,
		},
		{
			name:    "missing bucket",
			raw:     "s3:///prefix/",
			wantErr: ErrMissingBucket,
		},
		{
			name:    "unsupported scheme",
			raw:     "gs://bucket/",
			wantErr: ErrUnsupportedScheme,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDestination(tt.raw)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDestinationString(t *testing.T) {
	assert.Equal(t, "./models", (&Destination{Kind: sink.KindFile, Dir: "./models"}).String())
	assert.Equal(t, "s3://models/chairs/", (&Destination{Kind: sink.KindS3, Bucket: "models", Prefix: "chairs/"}).String())
	assert.Equal(t, "s3://models/", (&Destination{Kind: sink.KindS3, Bucket: "models"}).String())

	// String output must parse back to the same destination; detached
	// workers receive it as --output.
	for _, raw := range []string{"s3://models/chairs/", "s3://models/", "/tmp/out"} {
		d, err := ParseDestination(raw)
		require.NoError(t, err)
		back, err := ParseDestination(d.String())
		require.NoError(t, err)
		assert.Equal(t, d, back)
	}
}

func TestOpenSink_File(t *testing.T) {
	dir := t.TempDir()
	s, err := openSink(context.Background(), &config.Config{}, &Destination{Kind: sink.KindFile, Dir: dir})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, ok := s.(*file.Sink)
	assert.True(t, ok)
}

package dataset

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSet() *Dataset {
	d := &Dataset{Samples: make([]Sample, 4)}
	for i := range d.Samples {
		for j := range d.Samples[i].Features {
			d.Samples[i].Features[j] = byte(i*31 + j)
		}
		d.Samples[i].Label = byte(i % 10)
	}
	return d
}

func TestEncodeRead(t *testing.T) {
	want := sampleSet()

	var images, labels bytes.Buffer
	require.NoError(t, Encode(&images, &labels, want))
	assert.Equal(t, 16+4*784, images.Len())
	assert.Equal(t, 8+4, labels.Len())

	got, err := Read(&images, &labels)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadErrors(t *testing.T) {
	var images, labels bytes.Buffer
	require.NoError(t, Encode(&images, &labels, sampleSet()))
	good := images.Bytes()

	tests := []struct {
		name    string
		images  []byte
		labels  []byte
		wantErr error
	}{
		{
			name:    "images passed as labels",
			images:  good,
			labels:  good,
			wantErr: ErrBadMagic,
		},
		{
			name: "non square",
			images: func() []byte {
				b := bytes.Clone(good)
				binary.BigEndian.PutUint32(b[8:], 14)
				binary.BigEndian.PutUint32(b[12:], 56)
				return b
			}(),
			labels:  labels.Bytes(),
			wantErr: ErrBadDimensions,
		},
		{
			name:   "count mismatch",
			images: good,
			labels: func() []byte {
				b := bytes.Clone(labels.Bytes()[:8])
				binary.BigEndian.PutUint32(b[4:], 0)
				return b
			}(),
			wantErr: ErrCountMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(bytes.NewReader(tt.images), bytes.NewReader(tt.labels))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestReadTruncated(t *testing.T) {
	var images, labels bytes.Buffer
	require.NoError(t, Encode(&images, &labels, sampleSet()))

	_, err := Read(bytes.NewReader(images.Bytes()[:100]), &labels)
	assert.Error(t, err)
}

func TestLoadPlainAndGzip(t *testing.T) {
	want := sampleSet()

	tests := []struct {
		name     string
		set      Set
		compress bool
	}{
		{"train plain", Train, false},
		{"test plain", Test, false},
		{"train gzip", Train, true},
		{"test gzip", Test, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, WriteFiles(dir, tt.set, want, tt.compress))

			got, err := Load(dir, tt.set)
			require.NoError(t, err)
			assert.Equal(t, want.Len(), got.Len())
			assert.Equal(t, want.Samples, got.Samples)
		})
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir(), Train)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadPrefersPlainFile(t *testing.T) {
	dir := t.TempDir()
	plain := sampleSet()
	require.NoError(t, WriteFiles(dir, Test, plain, false))

	other := &Dataset{Samples: plain.Samples[:1]}
	require.NoError(t, WriteFiles(dir, Test, other, true))

	got, err := Load(dir, Test)
	require.NoError(t, err)
	assert.Equal(t, plain.Len(), got.Len())

	_, err = os.Stat(filepath.Join(dir, "t10k-images-idx3-ubyte.gz"))
	require.NoError(t, err)
}

func TestGzipCloseReportsStreamError(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(bytes.Repeat([]byte{1}, 4096))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	// Byte 10 starts the deflate stream; 0xff selects the reserved block type.
	data := buf.Bytes()
	data[10] = 0xff
	path := filepath.Join(dir, "images")
	require.NoError(t, os.WriteFile(path+".gz", data, 0o644))

	rc, err := openMaybeGzip(path)
	require.NoError(t, err)
	_, err = io.ReadAll(rc)
	assert.Error(t, err)
	assert.Error(t, rc.Close())
}

func TestGzipCloseAfterCleanRead(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteFiles(dir, Train, sampleSet(), true))

	rc, err := openMaybeGzip(filepath.Join(dir, "train-labels-idx1-ubyte"))
	require.NoError(t, err)
	_, err = io.ReadAll(rc)
	require.NoError(t, err)
	assert.NoError(t, rc.Close())
}

package disk

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestMemoryDeviceReadWriteRoundTrip(t *testing.T) {
	d := NewMemoryDevice(4, nil)
	ctx := context.Background()

	var in [SectorSize]byte
	in[0] = 0xCA
	in[SectorSize-1] = 0xFE

	require.NoError(t, d.WriteSector(ctx, 2, in[:]))

	var out [SectorSize]byte
	require.NoError(t, d.ReadSector(ctx, 2, out[:]))
	assert.Equal(t, in, out)

	// Untouched sectors stay zero.
	var zero [SectorSize]byte
	require.NoError(t, d.ReadSector(ctx, 0, out[:]))
	assert.Equal(t, zero, out)
}

func TestMemoryDeviceRejectsOutOfRangeSector(t *testing.T) {
	d := NewMemoryDevice(2, nil)
	buf := make([]byte, SectorSize)
	assert.Error(t, d.ReadSector(context.Background(), 5, buf))
	assert.Error(t, d.WriteSector(context.Background(), 5, buf))
}

func TestMemoryDeviceRejectsWrongSizedBuffer(t *testing.T) {
	d := NewMemoryDevice(2, nil)
	assert.Error(t, d.ReadSector(context.Background(), 0, make([]byte, 10)))
	assert.Error(t, d.WriteSector(context.Background(), 0, make([]byte, 10)))
}

func TestMemoryDeviceThrottleRespectsContextCancellation(t *testing.T) {
	// A limiter with a tiny rate; cancel the context up front so Wait must
	// return the cancellation error instead of taking a token.
	limiter := rate.NewLimiter(rate.Limit(0.001), 1)
	d := NewMemoryDevice(1, limiter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	buf := make([]byte, SectorSize)
	err := d.ReadSector(ctx, 0, buf)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileDevicePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.img")
	ctx := context.Background()

	fd, err := OpenFileDevice(path, 4, nil)
	require.NoError(t, err)

	var in [SectorSize]byte
	in[0] = 0x42
	require.NoError(t, fd.WriteSector(ctx, 1, in[:]))
	require.NoError(t, fd.Close())

	fd2, err := OpenFileDevice(path, 4, nil)
	require.NoError(t, err)
	defer fd2.Close()

	var out [SectorSize]byte
	require.NoError(t, fd2.ReadSector(ctx, 1, out[:]))
	assert.Equal(t, in, out)
}

func TestOpenFileDeviceSizesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.img")

	fd, err := OpenFileDevice(path, 10, nil)
	require.NoError(t, err)
	defer fd.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(10*SectorSize), info.Size())
	assert.Equal(t, uint64(10), fd.NumSectors())
}

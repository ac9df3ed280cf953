package disk_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosutil/factorypack/pkg/disk"
)

type recordingWriter struct {
	target string
	pt     *disk.PartitionTable
	pmbr   []byte
	calls  int
}

func (w *recordingWriter) Install(target string, pt *disk.PartitionTable, pmbrCode []byte) error {
	w.target = target
	w.pt = pt
	w.pmbr = pmbrCode
	w.calls++
	return nil
}

func smallLayout(t *testing.T) *disk.PartitionTable {
	t.Helper()
	pt, err := disk.NewFactoryLayout(disk.FactoryLayoutRequest{
		Sectors:    40960, // 20 MiB
		KernelSize: 1 * 1024 * 1024,
		RootSize:   4 * 1024 * 1024,
		OEMSize:    1 * 1024 * 1024,
		EFISize:    1 * 1024 * 1024,
	})
	require.NoError(t, err)
	return pt
}

func TestBuildCreatesTargetFile(t *testing.T) {
	pt := smallLayout(t)
	target := filepath.Join(t.TempDir(), "diskimg.bin")
	pmbr := []byte{0xeb, 0x90}

	w := &recordingWriter{}
	b := &disk.Builder{Writer: w}
	require.NoError(t, b.Build(target, pt, pmbr, false))

	fi, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, int64(pt.Bytes()), fi.Size())
	assert.Equal(t, 1, w.calls)
	assert.Equal(t, target, w.target)
	assert.Equal(t, pmbr, w.pmbr)
}

func TestBuildPreserveReusesMatchingFile(t *testing.T) {
	pt := smallLayout(t)
	target := filepath.Join(t.TempDir(), "diskimg.bin")

	require.NoError(t, os.WriteFile(target, nil, 0644))
	require.NoError(t, os.Truncate(target, int64(pt.Bytes())))
	// plant a marker to prove the file was not recreated
	f, err := os.OpenFile(target, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("marker"), 4096)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	b := &disk.Builder{Writer: &recordingWriter{}}
	require.NoError(t, b.Build(target, pt, nil, true))

	buf := make([]byte, 6)
	f, err = os.Open(target)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.ReadAt(buf, 4096)
	require.NoError(t, err)
	assert.Equal(t, []byte("marker"), buf)
}

func TestBuildPreserveWrongSizeRecreates(t *testing.T) {
	pt := smallLayout(t)
	target := filepath.Join(t.TempDir(), "diskimg.bin")
	require.NoError(t, os.WriteFile(target, []byte("tiny"), 0644))

	b := &disk.Builder{Writer: &recordingWriter{}}
	require.NoError(t, b.Build(target, pt, nil, true))

	fi, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, int64(pt.Bytes()), fi.Size())
}

// satimage_test.go
package satimg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPixelTypeDataType(t *testing.T) {
	for _, pt := range []PixelType{
		PixelUInt8, PixelUInt16, PixelInt16, PixelUInt32,
		PixelInt32, PixelFloat32, PixelFloat64,
	} {
		dt, err := pt.DataType()
		require.NoError(t, err)
		assert.Equal(t, pt, pixelTypeOf(dt))
	}

	// 大小写不敏感
	dt, err := PixelType("Float32").DataType()
	require.NoError(t, err)
	assert.Equal(t, PixelFloat32, pixelTypeOf(dt))

	_, err = PixelType("complex64").DataType()
	assert.Error(t, err)
}

func TestPixelTypeIsFloat(t *testing.T) {
	assert.True(t, PixelFloat32.IsFloat())
	assert.True(t, PixelFloat64.IsFloat())
	assert.False(t, PixelUInt8.IsFloat())
	assert.False(t, PixelInt32.IsFloat())
}

func TestNewSatImageEmpty(t *testing.T) {
	si := NewSatImage()
	assert.True(t, si.IsEmpty())
	assert.Equal(t, "SatImage(Empty)", si.String())
	assert.Error(t, si.CheckFormat())
	assert.Equal(t, 0, si.Width())
	assert.Equal(t, 0, si.Height())
	assert.Equal(t, 0, si.BandCount())
	assert.NoError(t, si.Close())
}

func TestReadNonexistentFile(t *testing.T) {
	si := NewSatImage().Read("/nonexistent/image.tif")
	assert.Error(t, si.Err())
}

func TestLatchedError(t *testing.T) {
	si := NewSatImage().Read("/nonexistent/image.tif")
	first := si.Err()
	require.Error(t, first)

	// 后续链式调用不覆盖已锁存的错误
	si.Rescale(2, "bilinear").Reproject("EPSG:3857").SetNoData(0)
	assert.Equal(t, first, si.Err())
	assert.True(t, si.IsEmpty())
}

func TestChainedOperations(t *testing.T) {
	si := newTestImage(t, 4, 4, PixelFloat32, [][]float64{fillValues(16, 7)})
	err := si.
		Reproject("EPSG:3857").
		Rescale(2, "nearest").
		ConvertPixelType(PixelUInt8).
		Err()
	require.NoError(t, err)
	assert.Equal(t, PixelUInt8, si.PixelType())
	assert.Equal(t, "EPSG:3857", si.CRS())
}

func TestOperationLog(t *testing.T) {
	si := newTestImage(t, 2, 2, PixelFloat32, [][]float64{fillValues(4, 1)})
	entries := si.Log()
	require.NotEmpty(t, entries)
	assert.Equal(t, "initialize", entries[0].Action)
	assert.Equal(t, "read", entries[len(entries)-1].Action)

	si.Rescale(2, "nearest")
	require.NoError(t, si.Err())
	entries = si.Log()
	assert.Equal(t, "rescale", entries[len(entries)-1].Action)
	assert.Equal(t, float64(2), entries[len(entries)-1].Params["rescale"])

	si.SetLog(nil)
	assert.Empty(t, si.Log())
	si.AddLog(LogEntry{Action: "custom"})
	assert.Len(t, si.Log(), 1)
}

func TestString(t *testing.T) {
	si := newTestImage(t, 3, 2, PixelFloat32, [][]float64{fillValues(6, 1)})
	s := si.String()
	assert.Contains(t, s, "shape=(2, 3)")
	assert.Contains(t, s, "dtype=float32")
	assert.Contains(t, s, "crs=EPSG:4326")
}

func TestCheckFormat(t *testing.T) {
	si := newTestImage(t, 2, 2, PixelFloat32, [][]float64{fillValues(4, 1)})
	assert.NoError(t, si.CheckFormat())
}

// attributes_test.go
package satimg

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicAttributes(t *testing.T) {
	si := newTestImage(t, 4, 3, PixelUInt16, [][]float64{
		fillValues(12, 100),
		fillValues(12, 200),
	})
	assert.Equal(t, 4, si.Width())
	assert.Equal(t, 3, si.Height())
	assert.Equal(t, 2, si.BandCount())
	assert.Equal(t, PixelUInt16, si.PixelType())
	assert.Equal(t, "EPSG:4326", si.CRS())

	bounds, err := si.Bounds()
	require.NoError(t, err)
	assert.InDelta(t, 116.0, bounds[0], 1e-9)
	assert.InDelta(t, 39.997, bounds[1], 1e-9)
	assert.InDelta(t, 116.004, bounds[2], 1e-9)
	assert.InDelta(t, 40.0, bounds[3], 1e-9)

	gt, err := si.GeoTransform()
	require.NoError(t, err)
	assert.InDelta(t, 0.001, gt[1], 1e-12)
	assert.InDelta(t, -0.001, gt[5], 1e-12)
}

func TestBandAliasesDefault(t *testing.T) {
	si := newTestImage(t, 2, 2, PixelFloat32, [][]float64{
		fillValues(4, 1),
		fillValues(4, 2),
		fillValues(4, 3),
	})
	assert.Equal(t, []string{"B1", "B2", "B3"}, si.BandAliases())

	si.SetBandAliases([]string{"red", "green", "nir"})
	require.NoError(t, si.Err())
	assert.Equal(t, []string{"red", "green", "nir"}, si.BandAliases())

	bi, err := si.bandIndex("nir")
	require.NoError(t, err)
	assert.Equal(t, 2, bi)
	_, err = si.bandIndex("swir")
	assert.Error(t, err)

	si.ResetBandAliases()
	require.NoError(t, si.Err())
	assert.Equal(t, []string{"B1", "B2", "B3"}, si.BandAliases())
}

func TestNoData(t *testing.T) {
	si := newTestImage(t, 2, 2, PixelFloat32, [][]float64{fillValues(4, 1)})
	_, ok := si.NoData()
	assert.False(t, ok)

	setNoData(t, si, -9999)
	nd, ok := si.NoData()
	require.True(t, ok)
	assert.Equal(t, -9999.0, nd)
}

func TestAOI(t *testing.T) {
	nan := math.NaN()
	si := newTestImage(t, 2, 2, PixelFloat32, [][]float64{
		{1, nan, 3, nan},
	})

	// 无nodata元数据时全部有效
	aoi, err := si.AOI()
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, true, true}, aoi)

	setNoData(t, si, nan)
	aoi, err = si.AOI()
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true, false}, aoi)
}

func TestAOISentinelValue(t *testing.T) {
	si := newTestImage(t, 2, 2, PixelUInt8, [][]float64{
		{0, 10, 0, 20},
	})
	setNoData(t, si, 0)
	aoi, err := si.AOI()
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, false, true}, aoi)
}

func TestBoundaryFullImage(t *testing.T) {
	si := newTestImage(t, 4, 4, PixelUInt8, [][]float64{fillValues(16, 1)})
	boundary, err := si.Boundary()
	require.NoError(t, err)
	require.NotEmpty(t, boundary)

	bounds, err := si.Bounds()
	require.NoError(t, err)
	bb := boundary.Bound()
	assert.InDelta(t, bounds[0], bb.Min[0], 1e-9)
	assert.InDelta(t, bounds[1], bb.Min[1], 1e-9)
	assert.InDelta(t, bounds[2], bb.Max[0], 1e-9)
	assert.InDelta(t, bounds[3], bb.Max[1], 1e-9)
}

func TestBoundaryWithNoData(t *testing.T) {
	// 右半列全为nodata, 边界只剩左半
	si := newTestImage(t, 4, 4, PixelUInt8, [][]float64{{
		1, 1, 0, 0,
		1, 1, 0, 0,
		1, 1, 0, 0,
		1, 1, 0, 0,
	}})
	setNoData(t, si, 0)
	boundary, err := si.Boundary()
	require.NoError(t, err)
	require.NotEmpty(t, boundary)
	bb := boundary.Bound()
	assert.InDelta(t, 116.002, bb.Max[0], 1e-9)
}

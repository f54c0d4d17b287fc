// basic_ops_test.go
package satimg

import (
	"math"
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertPixelType(t *testing.T) {
	si := newTestImage(t, 2, 2, PixelFloat32, [][]float64{{1, 2, 3, 4}})
	si.ConvertPixelType(PixelUInt8)
	require.NoError(t, si.Err())
	assert.Equal(t, PixelUInt8, si.PixelType())
	requireSameValues(t, []float64{1, 2, 3, 4}, readBand(t, si, 0), 0)
}

func TestConvertPixelTypeUnsupported(t *testing.T) {
	si := newTestImage(t, 2, 2, PixelFloat32, [][]float64{fillValues(4, 1)})
	si.ConvertPixelType("int128")
	assert.Error(t, si.Err())
}

func TestConvertPixelTypeNoDataGuard(t *testing.T) {
	si := newTestImage(t, 2, 2, PixelFloat32, [][]float64{fillValues(4, 1)})
	setNoData(t, si, math.NaN())

	// NaN哨兵无法在整型中表示
	si.ConvertPixelType(PixelUInt8)
	require.Error(t, si.Err())
	assert.Contains(t, si.Err().Error(), "not representable")
}

func TestValidateNoData(t *testing.T) {
	assert.NoError(t, validateNoData(PixelFloat32, math.NaN()))
	assert.NoError(t, validateNoData(PixelFloat64, -9999.5))
	assert.NoError(t, validateNoData(PixelUInt8, 255))
	assert.NoError(t, validateNoData(PixelInt16, -32768))

	assert.Error(t, validateNoData(PixelUInt8, math.NaN()))
	assert.Error(t, validateNoData(PixelInt32, math.Inf(1)))
	assert.Error(t, validateNoData(PixelUInt8, 0.5))
	assert.Error(t, validateNoData(PixelUInt8, 256))
	assert.Error(t, validateNoData(PixelUInt16, -1))
	assert.Error(t, validateNoData(PixelInt16, 40000))
}

func TestSetNoData(t *testing.T) {
	si := newTestImage(t, 2, 2, PixelUInt8, [][]float64{
		{0, 5, 0, 7},
		{1, 2, 3, 4},
	})
	setNoData(t, si, 0)

	si.SetNoData(255)
	require.NoError(t, si.Err())
	nd, ok := si.NoData()
	require.True(t, ok)
	assert.Equal(t, 255.0, nd)
	// 第一波段的掩膜同步作用到全部波段
	requireSameValues(t, []float64{255, 5, 255, 7}, readBand(t, si, 0), 0)
	requireSameValues(t, []float64{255, 2, 255, 4}, readBand(t, si, 1), 0)
}

func TestSetNoDataExplicitOld(t *testing.T) {
	si := newTestImage(t, 2, 2, PixelInt16, [][]float64{{-1, 5, -2, 7}})
	si.SetNoData(-9999, -1, -2)
	require.NoError(t, si.Err())
	requireSameValues(t, []float64{-9999, 5, -9999, 7}, readBand(t, si, 0), 0)
}

func TestSetNoDataWithoutExisting(t *testing.T) {
	si := newTestImage(t, 2, 2, PixelUInt8, [][]float64{fillValues(4, 1)})
	si.SetNoData(0)
	assert.Error(t, si.Err())
}

func TestSetNoDataNotRepresentable(t *testing.T) {
	si := newTestImage(t, 2, 2, PixelUInt8, [][]float64{fillValues(4, 1)})
	setNoData(t, si, 0)
	si.SetNoData(math.NaN())
	assert.Error(t, si.Err())
}

func TestClip(t *testing.T) {
	si := newTestImage(t, 4, 4, PixelUInt8, [][]float64{fillValues(16, 9)})
	setNoData(t, si, 0)

	// 左半幅
	half := orb.Polygon{{
		{116.0, 40.0}, {116.002, 40.0}, {116.002, 39.996}, {116.0, 39.996}, {116.0, 40.0},
	}}
	si.Clip(half)
	require.NoError(t, si.Err())
	assert.Equal(t, 2, si.Width())
	assert.Equal(t, 4, si.Height())
}

func TestClipInvalidGeometry(t *testing.T) {
	si := newTestImage(t, 2, 2, PixelUInt8, [][]float64{fillValues(4, 1)})
	si.Clip(orb.Point{116.001, 39.999})
	assert.Error(t, si.Err())
}

func TestShrinkInvalidDistance(t *testing.T) {
	si := newTestImage(t, 2, 2, PixelUInt8, [][]float64{fillValues(4, 1)})
	si.Shrink(0)
	assert.Error(t, si.Err())
}

func TestUTMZoneFor(t *testing.T) {
	ensureGDAL()
	sr, err := godal.NewSpatialRefFromEPSG(4326)
	require.NoError(t, err)
	defer sr.Close()

	north, err := godal.NewGeometryFromWKT("POLYGON((116 40,116.1 40,116.1 40.1,116 40.1,116 40))", sr)
	require.NoError(t, err)
	defer north.Close()
	code, err := utmZoneFor(north)
	require.NoError(t, err)
	assert.Equal(t, 32650, code)

	south, err := godal.NewGeometryFromWKT("POLYGON((116 -40,116.1 -40,116.1 -40.1,116 -40.1,116 -40))", sr)
	require.NoError(t, err)
	defer south.Close()
	code, err = utmZoneFor(south)
	require.NoError(t, err)
	assert.Equal(t, 32750, code)
}

func TestReproject(t *testing.T) {
	si := newTestImage(t, 4, 4, PixelFloat32, [][]float64{fillValues(16, 1)})
	si.Reproject("EPSG:3857")
	require.NoError(t, si.Err())
	assert.Equal(t, "EPSG:3857", si.CRS())
}

func TestReprojectInvalidCRS(t *testing.T) {
	si := newTestImage(t, 2, 2, PixelFloat32, [][]float64{fillValues(4, 1)})
	si.Reproject("4326")
	require.Error(t, si.Err())
	assert.Contains(t, si.Err().Error(), "EPSG:")
}

func TestParseEPSG(t *testing.T) {
	code, err := parseEPSG("EPSG:4326")
	require.NoError(t, err)
	assert.Equal(t, 4326, code)

	code, err = parseEPSG("epsg:3857")
	require.NoError(t, err)
	assert.Equal(t, 3857, code)

	_, err = parseEPSG("4326")
	assert.Error(t, err)
	_, err = parseEPSG("EPSG:abc")
	assert.Error(t, err)
}

func TestRescale(t *testing.T) {
	si := newTestImage(t, 4, 4, PixelFloat32, [][]float64{fillValues(16, 3)})
	si.Rescale(2, "nearest")
	require.NoError(t, si.Err())
	assert.Equal(t, 2, si.Width())
	assert.Equal(t, 2, si.Height())
	requireSameValues(t, fillValues(4, 3), readBand(t, si, 0), 0)
}

func TestRescaleNoop(t *testing.T) {
	si := newTestImage(t, 4, 4, PixelFloat32, [][]float64{fillValues(16, 1)})
	si.Rescale(1, "nearest")
	require.NoError(t, si.Err())
	assert.Equal(t, 4, si.Width())
}

func TestRescaleInvalid(t *testing.T) {
	si := newTestImage(t, 4, 4, PixelFloat32, [][]float64{fillValues(16, 1)})
	si.Rescale(-2, "nearest")
	assert.Error(t, si.Err())

	si2 := newTestImage(t, 4, 4, PixelFloat32, [][]float64{fillValues(16, 1)})
	si2.Rescale(2, "fancy")
	assert.Error(t, si2.Err())
}

func TestSetBandAliasesValidation(t *testing.T) {
	si := newTestImage(t, 2, 2, PixelFloat32, [][]float64{
		fillValues(4, 1),
		fillValues(4, 2),
	})
	si.SetBandAliases([]string{"only_one"})
	assert.Error(t, si.Err())

	si2 := newTestImage(t, 2, 2, PixelFloat32, [][]float64{
		fillValues(4, 1),
		fillValues(4, 2),
	})
	si2.SetBandAliases([]string{"dup", "dup"})
	assert.Error(t, si2.Err())
}

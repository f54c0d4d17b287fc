// helpers_test.go
package satimg

import (
	"math"
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/stretchr/testify/require"
)

// newTestImage 构造带地理参考(EPSG:4326)的内存测试影像
func newTestImage(t *testing.T, width, height int, pt PixelType, bands [][]float64) *SatImage {
	t.Helper()
	ensureGDAL()
	dt, err := pt.DataType()
	require.NoError(t, err)
	ds, err := godal.Create(godal.Memory, "", len(bands), dt, width, height)
	require.NoError(t, err)
	require.NoError(t, ds.SetGeoTransform([6]float64{116.0, 0.001, 0, 40.0, 0, -0.001}))
	sr, err := godal.NewSpatialRefFromEPSG(4326)
	require.NoError(t, err)
	require.NoError(t, ds.SetSpatialRef(sr))
	sr.Close()
	for i, data := range bands {
		require.NoError(t, ds.Bands()[i].Write(0, 0, data, width, height))
	}
	si := NewSatImage().ReadDataset(ds)
	require.NoError(t, ds.Close())
	require.NoError(t, si.Err())
	t.Cleanup(func() { si.Close() })
	return si
}

func setNoData(t *testing.T, si *SatImage, nodata float64) {
	t.Helper()
	require.NoError(t, si.ds.SetNoData(nodata))
}

func readBand(t *testing.T, si *SatImage, band int) []float64 {
	t.Helper()
	st := si.ds.Structure()
	buf := make([]float64, st.SizeX*st.SizeY)
	require.NoError(t, si.ds.Bands()[band].Read(0, 0, buf, st.SizeX, st.SizeY))
	return buf
}

func fillValues(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func requireSameValues(t *testing.T, want, got []float64, delta float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		if math.IsNaN(want[i]) {
			require.True(t, math.IsNaN(got[i]), "pixel %d: want NaN, got %g", i, got[i])
			continue
		}
		require.InDelta(t, want[i], got[i], delta, "pixel %d", i)
	}
}

// fusion_test.go
package satimg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpolateImages(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.AddDate(0, 0, 10)

	a := newTestImage(t, 2, 2, PixelFloat32, [][]float64{fillValues(4, 10)})
	a.SetAcquiredAt(t0)
	b := newTestImage(t, 2, 2, PixelFloat32, [][]float64{fillValues(4, 20)})
	b.SetAcquiredAt(t1)

	mid := t0.AddDate(0, 0, 5)
	out, err := InterpolateImages([]*SatImage{b, a}, []time.Time{mid})
	require.NoError(t, err)
	require.Len(t, out, 1)
	defer out[0].Close()

	assert.Equal(t, mid, out[0].AcquiredAt())
	requireSameValues(t, fillValues(4, 15), readBand(t, out[0], 0), 1e-3)
}

func TestInterpolateImagesSingleInput(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := newTestImage(t, 2, 2, PixelFloat32, [][]float64{fillValues(4, 10)})
	a.SetAcquiredAt(t0)

	// 单幅输入无法拟合插值器, 任意目标时刻都取该影像本身
	targets := []time.Time{t0.AddDate(0, 0, -5), t0, t0.AddDate(0, 0, 5)}
	out, err := InterpolateImages([]*SatImage{a}, targets)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i, img := range out {
		defer img.Close()
		assert.Equal(t, targets[i], img.AcquiredAt())
		requireSameValues(t, fillValues(4, 10), readBand(t, img, 0), 1e-3)
	}
}

func TestInterpolateImagesClampsOutOfRange(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.AddDate(0, 0, 10)

	a := newTestImage(t, 2, 2, PixelFloat32, [][]float64{fillValues(4, 10)})
	a.SetAcquiredAt(t0)
	b := newTestImage(t, 2, 2, PixelFloat32, [][]float64{fillValues(4, 20)})
	b.SetAcquiredAt(t1)

	// 区间外的目标时刻按端点取值
	after := t1.AddDate(0, 0, 30)
	out, err := InterpolateImages([]*SatImage{a, b}, []time.Time{after})
	require.NoError(t, err)
	require.Len(t, out, 1)
	defer out[0].Close()
	requireSameValues(t, fillValues(4, 20), readBand(t, out[0], 0), 1e-3)
}

func TestInterpolateImagesMultipleTargets(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	images := make([]*SatImage, 3)
	for i := range images {
		img := newTestImage(t, 2, 2, PixelFloat32, [][]float64{fillValues(4, float64(10*(i+1)))})
		img.SetAcquiredAt(t0.AddDate(0, 0, 10*i))
		images[i] = img
	}
	targets := []time.Time{t0.AddDate(0, 0, 5), t0.AddDate(0, 0, 15)}
	out, err := InterpolateImages(images, targets)
	require.NoError(t, err)
	require.Len(t, out, 2)
	defer out[0].Close()
	defer out[1].Close()
	requireSameValues(t, fillValues(4, 15), readBand(t, out[0], 0), 1e-3)
	requireSameValues(t, fillValues(4, 25), readBand(t, out[1], 0), 1e-3)
}

func TestInterpolateImagesValidation(t *testing.T) {
	_, err := InterpolateImages(nil, []time.Time{time.Now()})
	assert.Error(t, err)

	a := newTestImage(t, 2, 2, PixelFloat32, [][]float64{fillValues(4, 1)})
	a.SetAcquiredAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	_, err = InterpolateImages([]*SatImage{a}, nil)
	assert.Error(t, err)

	// 缺少获取时间
	b := newTestImage(t, 2, 2, PixelFloat32, [][]float64{fillValues(4, 2)})
	_, err = InterpolateImages([]*SatImage{a, b}, []time.Time{time.Now()})
	assert.Error(t, err)

	// 波段别名不一致
	c := newTestImage(t, 2, 2, PixelFloat32, [][]float64{fillValues(4, 3)})
	c.SetAcquiredAt(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	c.SetBandAliases([]string{"nir"})
	require.NoError(t, c.Err())
	_, err = InterpolateImages([]*SatImage{a, c}, []time.Time{time.Now()})
	assert.Error(t, err)

	// 获取时间重复
	d := newTestImage(t, 2, 2, PixelFloat32, [][]float64{fillValues(4, 4)})
	d.SetAcquiredAt(a.AcquiredAt())
	_, err = InterpolateImages([]*SatImage{a, d}, []time.Time{time.Now()})
	assert.Error(t, err)
}

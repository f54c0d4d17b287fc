// fusion.go
package satimg

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/interp"
)

// InterpolateImages 将影像序列按时间插值到目标时刻
//
// 插值基于每波段均值统计: 先统计各输入影像的波段均值,
// 对均值做分段线性插值, 再以最新影像为空间参考,
// 对有效像素施加均值偏移得到目标时刻的影像。
// 输入影像必须波段别名一致、像素类型一致且均带获取时间。
func InterpolateImages(images []*SatImage, times []time.Time) ([]*SatImage, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("no input images")
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("no target times")
	}

	sorted := append([]*SatImage{}, images...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].AcquiredAt().Before(sorted[j].AcquiredAt())
	})

	// 输入一致性校验
	ref := sorted[0]
	refAliases := strings.Join(ref.BandAliases(), ",")
	for _, img := range sorted {
		if img.IsEmpty() {
			return nil, errEmpty()
		}
		if img.AcquiredAt().IsZero() {
			return nil, fmt.Errorf("all images must have an acquisition time")
		}
		if strings.Join(img.BandAliases(), ",") != refAliases {
			return nil, fmt.Errorf("all images must have the same band aliases")
		}
		if img.PixelType() != ref.PixelType() {
			return nil, fmt.Errorf("all images must have the same pixel type")
		}
	}
	aliases := ref.BandAliases()

	// 各影像的波段均值
	xs := make([]float64, len(sorted))
	means := make(map[string][]float64, len(aliases))
	for i, img := range sorted {
		xs[i] = float64(img.AcquiredAt().Unix())
		if i > 0 && xs[i] <= xs[i-1] {
			return nil, fmt.Errorf("image acquisition times must be distinct")
		}
		stats, err := img.BandStats(3)
		if err != nil {
			return nil, fmt.Errorf("failed to compute band stats: %w", err)
		}
		for _, alias := range aliases {
			means[alias] = append(means[alias], stats[alias].Mean)
		}
	}

	// 均值的分段线性插值器, 单幅输入无法拟合, 直接取该影像的均值
	predictors := make(map[string]*interp.PiecewiseLinear, len(aliases))
	if len(xs) > 1 {
		for _, alias := range aliases {
			pl := &interp.PiecewiseLinear{}
			if err := pl.Fit(xs, means[alias]); err != nil {
				return nil, fmt.Errorf("failed to fit interpolator for band '%s': %w", alias, err)
			}
			predictors[alias] = pl
		}
	}
	predict := func(alias string, ts float64) float64 {
		if len(xs) == 1 {
			return means[alias][0]
		}
		// 超出区间的目标时刻按端点取值
		if ts < xs[0] {
			ts = xs[0]
		} else if ts > xs[len(xs)-1] {
			ts = xs[len(xs)-1]
		}
		return predictors[alias].Predict(ts)
	}

	// 以最新影像为空间参考
	base := sorted[len(sorted)-1]
	baseMeans := make(map[string]float64, len(aliases))
	for _, alias := range aliases {
		baseMeans[alias] = means[alias][len(sorted)-1]
	}
	nodata, hasNodata := base.NoData()

	var out []*SatImage
	for _, t := range times {
		img, err := base.Copy()
		if err != nil {
			return nil, err
		}
		img.SetAcquiredAt(t)
		st := img.ds.Structure()
		buf := make([]float64, st.SizeX*st.SizeY)
		ts := float64(t.Unix())
		for bi, band := range img.ds.Bands() {
			alias := aliases[bi]
			offset := predict(alias, ts) - baseMeans[alias]
			if err := band.Read(0, 0, buf, st.SizeX, st.SizeY); err != nil {
				img.Close()
				return nil, fmt.Errorf("failed to read band '%s': %w", alias, err)
			}
			for i, v := range buf {
				if hasNodata && sentinelEqual(v, nodata) {
					continue
				}
				if math.IsNaN(v) {
					continue
				}
				buf[i] = v + offset
			}
			if err := band.Write(0, 0, buf, st.SizeX, st.SizeY); err != nil {
				img.Close()
				return nil, fmt.Errorf("failed to write band '%s': %w", alias, err)
			}
		}
		img.logAction("interpolate", map[string]any{"time": t.UTC().Format(time.RFC3339)})
		out = append(out, img)
	}
	return out, nil
}

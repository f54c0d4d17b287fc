// advanced_ops.go
package satimg

import (
	"fmt"
	"math"
	"sort"

	"github.com/airbusgeo/godal"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gonum.org/v1/gonum/stat"
)

// ApplyScaleFactor 对指定波段应用比例因子
//
// 仅缩放有效像素, nodata哨兵保持不变。
func (si *SatImage) ApplyScaleFactor(scaleFactor map[string]float64) *SatImage {
	if si.err != nil {
		return si
	}
	if si.ds == nil {
		return si.fail(errEmpty())
	}
	st := si.ds.Structure()
	nodata, hasNodata := si.NoData()
	buf := make([]float64, st.SizeX*st.SizeY)
	for alias, sf := range scaleFactor {
		bi, err := si.bandIndex(alias)
		if err != nil {
			return si.fail(err)
		}
		band := si.ds.Bands()[bi]
		if err := band.Read(0, 0, buf, st.SizeX, st.SizeY); err != nil {
			return si.failf("failed to read band '%s': %w", alias, err)
		}
		for i, v := range buf {
			if hasNodata && sentinelEqual(v, nodata) {
				continue
			}
			buf[i] = v * sf
		}
		if err := band.Write(0, 0, buf, st.SizeX, st.SizeY); err != nil {
			return si.failf("failed to write band '%s': %w", alias, err)
		}
	}
	si.logAction("apply_scale_factor", map[string]any{"scaleFactor": scaleFactor})
	return si
}

func sentinelEqual(v, nodata float64) bool {
	if math.IsNaN(nodata) {
		return math.IsNaN(v)
	}
	return v == nodata
}

// GenerateBackbone 生成空间属性相同的模板影像
//
// 模板与当前影像具有相同的尺寸、CRS和地理变换,
// 像素用指定值填充。nbands为0时沿用当前波段数。
func (si *SatImage) GenerateBackbone(nbands int, pt PixelType, fillValue, nodata float64) (*SatImage, error) {
	if si.ds == nil {
		return nil, errEmpty()
	}
	if nbands == 0 {
		nbands = si.ds.Structure().NBands
	}
	if pt == "" {
		pt = PixelFloat32
	}
	dt, err := pt.DataType()
	if err != nil {
		return nil, err
	}
	st := si.ds.Structure()
	ds, err := godal.Create(godal.Memory, "", nbands, dt, st.SizeX, st.SizeY)
	if err != nil {
		return nil, fmt.Errorf("failed to create backbone dataset: %w", err)
	}
	gt, err := si.ds.GeoTransform()
	if err != nil {
		ds.Close()
		return nil, fmt.Errorf("failed to get geotransform: %w", err)
	}
	if err := ds.SetGeoTransform(gt); err != nil {
		ds.Close()
		return nil, fmt.Errorf("failed to set backbone geotransform: %w", err)
	}
	if sr := si.ds.SpatialRef(); sr != nil {
		err = ds.SetSpatialRef(sr)
		sr.Close()
		if err != nil {
			ds.Close()
			return nil, fmt.Errorf("failed to set backbone CRS: %w", err)
		}
	}
	for _, band := range ds.Bands() {
		if err := band.Fill(fillValue, 0); err != nil {
			ds.Close()
			return nil, fmt.Errorf("failed to fill backbone: %w", err)
		}
	}
	if err := ds.SetNoData(nodata); err != nil {
		ds.Close()
		return nil, fmt.Errorf("failed to set backbone nodata: %w", err)
	}

	backbone := NewSatImage()
	backbone.ds = ds
	backbone.log = append([]LogEntry{}, si.log...)
	backbone.logAction("generate_backbone", map[string]any{
		"nbands":    nbands,
		"pixelType": string(pt),
		"fillValue": fillValue,
		"nodata":    nodata,
	})
	return backbone, nil
}

// indexMathEnv 波段代数表达式可用的数学函数
func indexMathEnv() map[string]any {
	return map[string]any{
		"sqrt":  math.Sqrt,
		"abs":   math.Abs,
		"log":   math.Log,
		"log10": math.Log10,
		"exp":   math.Exp,
		"pow":   math.Pow,
	}
}

// CalculateIndex 根据波段代数表达式计算光谱指数
//
// 表达式中用1基的"B[i]"引用波段, 如NDVI: "(B[4] - B[3]) / (B[4] + B[3])"。
// 表达式编译与求值委托expr引擎, 每个表达式生成一幅float32单波段影像,
// nodata像素结果为NaN。按指数名称排序返回。
func (si *SatImage) CalculateIndex(equations map[string]string) ([]*SatImage, error) {
	if si.ds == nil {
		return nil, errEmpty()
	}
	st := si.ds.Structure()
	nbands := st.NBands

	// 预读全部波段
	bandData := make([][]float64, nbands)
	for bi, band := range si.ds.Bands() {
		bandData[bi] = make([]float64, st.SizeX*st.SizeY)
		if err := band.Read(0, 0, bandData[bi], st.SizeX, st.SizeY); err != nil {
			return nil, fmt.Errorf("failed to read band %d: %w", bi+1, err)
		}
	}
	aoi, err := si.AOI()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(equations))
	for name := range equations {
		names = append(names, name)
	}
	sort.Strings(names)

	programs := make(map[string]*vm.Program, len(equations))
	for _, name := range names {
		p, err := expr.Compile(equations[name])
		if err != nil {
			return nil, fmt.Errorf("invalid equation for index '%s': %w", name, err)
		}
		programs[name] = p
	}

	env := indexMathEnv()
	pixel := make(map[int]float64, nbands)
	env["B"] = pixel

	var results []*SatImage
	for _, name := range names {
		out, err := si.GenerateBackbone(1, PixelFloat32, math.NaN(), math.NaN())
		if err != nil {
			return nil, err
		}
		values := make([]float64, st.SizeX*st.SizeY)
		for i := range values {
			if !aoi[i] {
				values[i] = math.NaN()
				continue
			}
			for bi := 0; bi < nbands; bi++ {
				pixel[bi+1] = bandData[bi][i]
			}
			raw, err := expr.Run(programs[name], env)
			if err != nil {
				out.Close()
				return nil, fmt.Errorf("failed to evaluate index '%s': %w", name, err)
			}
			values[i] = toFloat64(raw)
		}
		if err := out.ds.Bands()[0].Write(0, 0, values, st.SizeX, st.SizeY); err != nil {
			out.Close()
			return nil, fmt.Errorf("failed to write index '%s': %w", name, err)
		}
		out.logAction("calculate_index", map[string]any{"alias": name, "equation": equations[name]})
		if out = out.SetBandAliases([]string{name}); out.err != nil {
			return nil, out.err
		}
		results = append(results, out)
	}
	return results, nil
}

func toFloat64(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return math.NaN()
	}
}

// BandStatistics 单波段汇总统计
type BandStatistics struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	P25    float64 `json:"25%"`
	Median float64 `json:"50%"`
	P75    float64 `json:"75%"`
	Max    float64 `json:"max"`
}

// BandStats 计算每个波段的汇总统计
//
// 仅统计有效数据掩膜内的像素, 结果按digits位小数舍入。
func (si *SatImage) BandStats(digits int) (map[string]BandStatistics, error) {
	if si.ds == nil {
		return nil, errEmpty()
	}
	aoi, err := si.AOI()
	if err != nil {
		return nil, err
	}
	st := si.ds.Structure()
	buf := make([]float64, st.SizeX*st.SizeY)
	stats := make(map[string]BandStatistics)
	for bi, band := range si.ds.Bands() {
		alias := si.BandAliases()[bi]
		if err := band.Read(0, 0, buf, st.SizeX, st.SizeY); err != nil {
			return nil, fmt.Errorf("failed to read band '%s': %w", alias, err)
		}
		var pixels []float64
		for i, ok := range aoi {
			if ok {
				pixels = append(pixels, buf[i])
			}
		}
		if len(pixels) == 0 {
			return nil, fmt.Errorf("band '%s' has no valid pixels", alias)
		}
		sort.Float64s(pixels)
		stats[alias] = BandStatistics{
			Count:  len(pixels),
			Mean:   roundTo(stat.Mean(pixels, nil), digits),
			Std:    roundTo(stat.PopStdDev(pixels, nil), digits),
			Min:    roundTo(pixels[0], digits),
			P25:    roundTo(stat.Quantile(0.25, stat.LinInterp, pixels, nil), digits),
			Median: roundTo(stat.Quantile(0.5, stat.LinInterp, pixels, nil), digits),
			P75:    roundTo(stat.Quantile(0.75, stat.LinInterp, pixels, nil), digits),
			Max:    roundTo(pixels[len(pixels)-1], digits),
		}
	}
	return stats, nil
}

func roundTo(v float64, digits int) float64 {
	scale := math.Pow(10, float64(digits))
	return math.Round(v*scale) / scale
}

// attributes.go
package satimg

import (
	"fmt"
	"math"

	"github.com/airbusgeo/godal"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// IsEmpty 影像是否为空
func (si *SatImage) IsEmpty() bool {
	return si.ds == nil
}

// Dataset 返回底层GDAL数据集
func (si *SatImage) Dataset() (*godal.Dataset, error) {
	if si.ds == nil {
		return nil, errEmpty()
	}
	return si.ds, nil
}

// Width 影像宽度(列数)
func (si *SatImage) Width() int {
	if si.ds == nil {
		return 0
	}
	return si.ds.Structure().SizeX
}

// Height 影像高度(行数)
func (si *SatImage) Height() int {
	if si.ds == nil {
		return 0
	}
	return si.ds.Structure().SizeY
}

// BandCount 波段数量
func (si *SatImage) BandCount() int {
	if si.ds == nil {
		return 0
	}
	return si.ds.Structure().NBands
}

// PixelType 当前像素数据类型
func (si *SatImage) PixelType() PixelType {
	if si.ds == nil {
		return ""
	}
	return pixelTypeOf(si.ds.Structure().DataType)
}

// BandAliases 波段别名列表
//
// 未设置别名时返回默认编号格式("B1".."Bn")。
func (si *SatImage) BandAliases() []string {
	if si.ds == nil {
		return nil
	}
	if len(si.aliases) > 0 {
		out := make([]string, len(si.aliases))
		copy(out, si.aliases)
		return out
	}
	nbands := si.ds.Structure().NBands
	out := make([]string, nbands)
	for i := range out {
		out[i] = fmt.Sprintf("B%d", i+1)
	}
	return out
}

// bandIndex 按别名查找波段下标(0基)
func (si *SatImage) bandIndex(alias string) (int, error) {
	for i, a := range si.BandAliases() {
		if a == alias {
			return i, nil
		}
	}
	return -1, fmt.Errorf("band alias '%s' not found in image", alias)
}

// NoData 当前nodata哨兵值
func (si *SatImage) NoData() (float64, bool) {
	if si.ds == nil {
		return 0, false
	}
	bands := si.ds.Bands()
	if len(bands) == 0 {
		return 0, false
	}
	return bands[0].NoData()
}

// CRS 坐标参考系统标识(如"EPSG:4326")
//
// 无法识别EPSG代码时返回投影WKT。
func (si *SatImage) CRS() string {
	if si.ds == nil {
		return ""
	}
	sr := si.ds.SpatialRef()
	if sr == nil {
		return ""
	}
	defer sr.Close()
	name := sr.AuthorityName("")
	code := sr.AuthorityCode("")
	if name != "" && code != "" {
		return fmt.Sprintf("%s:%s", name, code)
	}
	return si.ds.Projection()
}

// Bounds 影像外包框 [minX, minY, maxX, maxY]
func (si *SatImage) Bounds() ([4]float64, error) {
	if si.ds == nil {
		return [4]float64{}, errEmpty()
	}
	return si.ds.Bounds()
}

// GeoTransform 影像地理变换参数
func (si *SatImage) GeoTransform() ([6]float64, error) {
	if si.ds == nil {
		return [6]float64{}, errEmpty()
	}
	return si.ds.GeoTransform()
}

// AOI 有效数据掩膜
//
// 以第一波段为准, 非nodata像素为true。按行优先排列, 长度为宽×高。
func (si *SatImage) AOI() ([]bool, error) {
	if si.ds == nil {
		return nil, errEmpty()
	}
	st := si.ds.Structure()
	data := make([]float64, st.SizeX*st.SizeY)
	if err := si.ds.Bands()[0].Read(0, 0, data, st.SizeX, st.SizeY); err != nil {
		return nil, fmt.Errorf("failed to read band 1: %w", err)
	}
	aoi := make([]bool, len(data))
	nodata, hasNodata := si.NoData()
	for i, v := range data {
		switch {
		case !hasNodata:
			aoi[i] = true
		case math.IsNaN(nodata):
			aoi[i] = !math.IsNaN(v)
		default:
			aoi[i] = v != nodata
		}
	}
	return aoi, nil
}

// Boundary 有效数据区域边界
//
// 对nodata掩膜做矢量化, 返回影像CRS下的多多边形。
// 存在nodata时边界可能小于影像外包框。
func (si *SatImage) Boundary() (orb.MultiPolygon, error) {
	if si.ds == nil {
		return nil, errEmpty()
	}
	aoi, err := si.AOI()
	if err != nil {
		return nil, err
	}
	st := si.ds.Structure()

	// 构造0/1掩膜数据集, 掩膜同时充当nodata屏蔽
	mask := make([]uint8, len(aoi))
	for i, ok := range aoi {
		if ok {
			mask[i] = 1
		}
	}
	maskDS, err := godal.Create(godal.Memory, "", 1, godal.Byte, st.SizeX, st.SizeY)
	if err != nil {
		return nil, fmt.Errorf("failed to create mask dataset: %w", err)
	}
	defer maskDS.Close()
	gt, err := si.ds.GeoTransform()
	if err != nil {
		return nil, fmt.Errorf("failed to get geotransform: %w", err)
	}
	if err := maskDS.SetGeoTransform(gt); err != nil {
		return nil, fmt.Errorf("failed to set mask geotransform: %w", err)
	}
	if sr := si.ds.SpatialRef(); sr != nil {
		defer sr.Close()
		if err := maskDS.SetSpatialRef(sr); err != nil {
			return nil, fmt.Errorf("failed to set mask CRS: %w", err)
		}
	}
	maskBand := maskDS.Bands()[0]
	if err := maskBand.Write(0, 0, mask, st.SizeX, st.SizeY); err != nil {
		return nil, fmt.Errorf("failed to write mask: %w", err)
	}

	// 矢量化掩膜
	vecDS, err := godal.CreateVector(godal.Memory, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create memory vector dataset: %w", err)
	}
	defer vecDS.Close()
	var sr *godal.SpatialRef
	if s := si.ds.SpatialRef(); s != nil {
		sr = s
		defer s.Close()
	}
	layer, err := vecDS.CreateLayer("boundary", sr, godal.GTPolygon,
		godal.NewFieldDefinition("val", godal.FTInt))
	if err != nil {
		return nil, fmt.Errorf("failed to create boundary layer: %w", err)
	}
	if err := maskBand.Polygonize(layer, godal.PixelValueFieldIndex(0), godal.Mask(maskBand)); err != nil {
		return nil, fmt.Errorf("failed to polygonize mask: %w", err)
	}

	// 收集有效区域多边形
	var boundary orb.MultiPolygon
	layer.ResetReading()
	for {
		feat := layer.NextFeature()
		if feat == nil {
			break
		}
		geom := feat.Geometry()
		data, err := geom.WKB()
		if err != nil {
			feat.Close()
			return nil, fmt.Errorf("failed to export boundary geometry: %w", err)
		}
		g, err := wkb.Unmarshal(data)
		feat.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode boundary geometry: %w", err)
		}
		switch p := g.(type) {
		case orb.Polygon:
			boundary = append(boundary, p)
		case orb.MultiPolygon:
			boundary = append(boundary, p...)
		}
	}
	return boundary, nil
}

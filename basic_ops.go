// basic_ops.go
package satimg

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/airbusgeo/godal"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// resampleMethods gdalwarp支持的重采样方法
var resampleMethods = map[string]bool{
	"nearest": true, "bilinear": true, "cubic": true, "cubicspline": true,
	"lanczos": true, "average": true, "mode": true, "max": true, "min": true,
	"med": true, "q1": true, "q3": true, "sum": true, "rms": true,
}

// ConvertPixelType 转换像素数据类型
//
// nodata值必须在目标类型中可表示, 否则转换会静默破坏哨兵语义。
func (si *SatImage) ConvertPixelType(pt PixelType) *SatImage {
	if si.err != nil {
		return si
	}
	if si.ds == nil {
		return si.fail(errEmpty())
	}
	dt, err := pt.DataType()
	if err != nil {
		return si.fail(err)
	}
	if nd, ok := si.NoData(); ok {
		if err := validateNoData(pt, nd); err != nil {
			return si.failf("cannot convert to %s: %w", pt, err)
		}
	}
	converted, err := si.ds.Translate("", []string{"-ot", dt.String()}, godal.Memory)
	if err != nil {
		return si.failf("failed to convert pixel type to %s: %w", pt, err)
	}
	si.replaceDataset(converted)
	si.logAction("convert_pixel_type", map[string]any{"dtype": string(pt)})
	return si
}

// validateNoData 校验nodata值在目标像素类型中可表示
func validateNoData(pt PixelType, nodata float64) error {
	if pt.IsFloat() {
		return nil
	}
	if math.IsNaN(nodata) || math.IsInf(nodata, 0) {
		return fmt.Errorf("nodata value %g is not representable in pixel type %s", nodata, pt)
	}
	if nodata != math.Trunc(nodata) {
		return fmt.Errorf("nodata value %g is not representable in pixel type %s", nodata, pt)
	}
	ranges := map[PixelType][2]float64{
		PixelUInt8:  {0, math.MaxUint8},
		PixelUInt16: {0, math.MaxUint16},
		PixelInt16:  {math.MinInt16, math.MaxInt16},
		PixelUInt32: {0, math.MaxUint32},
		PixelInt32:  {math.MinInt32, math.MaxInt32},
	}
	if r, ok := ranges[pt]; ok && (nodata < r[0] || nodata > r[1]) {
		return fmt.Errorf("nodata value %g is out of range for pixel type %s", nodata, pt)
	}
	return nil
}

// SetNoData 更改nodata哨兵值
//
// 将旧哨兵值(缺省为当前元数据中的nodata)的像素改写为新值,
// 并更新全部波段的nodata元数据。掩膜以第一波段为准。
func (si *SatImage) SetNoData(newNodata float64, oldNodata ...float64) *SatImage {
	if si.err != nil {
		return si
	}
	if si.ds == nil {
		return si.fail(errEmpty())
	}
	if err := validateNoData(si.PixelType(), newNodata); err != nil {
		return si.fail(err)
	}
	st := si.ds.Structure()
	first := make([]float64, st.SizeX*st.SizeY)
	if err := si.ds.Bands()[0].Read(0, 0, first, st.SizeX, st.SizeY); err != nil {
		return si.failf("failed to read band 1: %w", err)
	}

	old := oldNodata
	if len(old) == 0 {
		nd, ok := si.NoData()
		if !ok {
			return si.failf("image has no nodata value to replace")
		}
		old = []float64{nd}
	}
	aoi := make([]bool, len(first))
	for i := range aoi {
		aoi[i] = true
	}
	for _, val := range old {
		for i, v := range first {
			if math.IsNaN(val) {
				aoi[i] = aoi[i] && !math.IsNaN(v)
			} else {
				aoi[i] = aoi[i] && v != val
			}
		}
	}

	buf := make([]float64, st.SizeX*st.SizeY)
	for _, band := range si.ds.Bands() {
		if err := band.Read(0, 0, buf, st.SizeX, st.SizeY); err != nil {
			return si.failf("failed to read band: %w", err)
		}
		for i, ok := range aoi {
			if !ok {
				buf[i] = newNodata
			}
		}
		if err := band.Write(0, 0, buf, st.SizeX, st.SizeY); err != nil {
			return si.failf("failed to write band: %w", err)
		}
	}
	if err := si.ds.SetNoData(newNodata); err != nil {
		return si.failf("failed to set nodata metadata: %w", err)
	}
	si.logAction("set_nodata", map[string]any{"newNodata": newNodata, "oldNodata": old})
	return si
}

// Clip 按几何边界裁剪影像
//
// 边界必须是影像CRS下的Polygon或MultiPolygon,
// 裁剪后仅保留与边界相交的像素。
func (si *SatImage) Clip(boundary orb.Geometry) *SatImage {
	if si.err != nil {
		return si
	}
	if si.ds == nil {
		return si.fail(errEmpty())
	}
	switch boundary.(type) {
	case orb.Polygon, orb.MultiPolygon:
	default:
		return si.failf("invalid clip geometry type: %s", boundary.GeoJSONType())
	}

	data, err := wkb.Marshal(boundary)
	if err != nil {
		return si.failf("failed to encode clip geometry: %w", err)
	}
	var sr *godal.SpatialRef
	if s := si.ds.SpatialRef(); s != nil {
		sr = s
		defer s.Close()
	}
	geom, err := godal.NewGeometryFromWKB(data, sr)
	if err != nil {
		return si.failf("failed to build clip geometry: %w", err)
	}
	defer geom.Close()

	// cutline通过/vsimem中转交给gdalwarp
	cutPath := fmt.Sprintf("/vsimem/satimg_cutline_%s.geojson", uuid.NewString())
	cutDS, err := godal.CreateVector(godal.GeoJSON, cutPath)
	if err != nil {
		return si.failf("failed to create cutline dataset: %w", err)
	}
	layer, err := cutDS.CreateLayer("cutline", sr, godal.GTMultiPolygon)
	if err != nil {
		cutDS.Close()
		return si.failf("failed to create cutline layer: %w", err)
	}
	feat, err := layer.NewFeature(geom)
	if err != nil {
		cutDS.Close()
		return si.failf("failed to write cutline feature: %w", err)
	}
	feat.Close()
	if err := cutDS.Close(); err != nil {
		return si.failf("failed to flush cutline: %w", err)
	}
	defer godal.VSIUnlink(cutPath)

	switches := []string{"-cutline", cutPath, "-crop_to_cutline"}
	if nd, ok := si.NoData(); ok {
		switches = append(switches, "-dstnodata", formatFloat(nd))
	}
	clipped, err := si.ds.Warp("", switches, godal.Memory)
	if err != nil {
		return si.failf("failed to clip image: %w", err)
	}
	si.replaceDataset(clipped)
	si.logAction("clip", map[string]any{"geometry": boundary.GeoJSONType()})
	return si
}

// Shrink 将有效数据边界向内收缩指定距离后裁剪
//
// 距离以米为单位, 缓冲在边界质心所在的UTM带中计算。
func (si *SatImage) Shrink(distance float64) *SatImage {
	if si.err != nil {
		return si
	}
	if si.ds == nil {
		return si.fail(errEmpty())
	}
	if distance <= 0 {
		return si.failf("shrink distance should be positive, got %g", distance)
	}
	boundary, err := si.Boundary()
	if err != nil {
		return si.fail(err)
	}
	if len(boundary) == 0 {
		return si.failf("image has no valid data area to shrink")
	}

	data, err := wkb.Marshal(boundary)
	if err != nil {
		return si.failf("failed to encode boundary: %w", err)
	}
	srcSR := si.ds.SpatialRef()
	if srcSR == nil {
		return si.failf("image has no CRS defined")
	}
	defer srcSR.Close()
	geom, err := godal.NewGeometryFromWKB(data, srcSR)
	if err != nil {
		return si.failf("failed to build boundary geometry: %w", err)
	}
	defer geom.Close()

	// 质心经纬度决定UTM带
	utmCode, err := utmZoneFor(geom)
	if err != nil {
		return si.fail(err)
	}
	utmSR, err := godal.NewSpatialRefFromEPSG(utmCode)
	if err != nil {
		return si.failf("failed to resolve UTM zone EPSG:%d: %w", utmCode, err)
	}
	defer utmSR.Close()

	if err := geom.Reproject(utmSR); err != nil {
		return si.failf("failed to project boundary to UTM: %w", err)
	}
	shrunk, err := geom.Buffer(-distance, 30)
	if err != nil {
		return si.failf("failed to shrink boundary: %w", err)
	}
	defer shrunk.Close()
	if shrunk.Empty() {
		return si.failf("shrink distance %g collapses the valid data area", distance)
	}
	if err := shrunk.Reproject(srcSR); err != nil {
		return si.failf("failed to project boundary back: %w", err)
	}
	swkb, err := shrunk.WKB()
	if err != nil {
		return si.failf("failed to export shrunk boundary: %w", err)
	}
	sgeom, err := wkb.Unmarshal(swkb)
	if err != nil {
		return si.failf("failed to decode shrunk boundary: %w", err)
	}

	if si = si.Clip(sgeom); si.err != nil {
		return si
	}
	si.logAction("shrink", map[string]any{"distance": distance})
	return si
}

// utmZoneFor 根据几何质心的经纬度求UTM带EPSG代码
func utmZoneFor(geom *godal.Geometry) (int, error) {
	wgs84, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve EPSG:4326: %w", err)
	}
	defer wgs84.Close()
	bounds, err := geom.Bounds(wgs84)
	if err != nil {
		return 0, fmt.Errorf("failed to get boundary extent: %w", err)
	}
	lon := (bounds[0] + bounds[2]) / 2
	lat := (bounds[1] + bounds[3]) / 2
	zone := int(math.Mod(math.Floor((lon+180)/6), 60)) + 1
	if lat >= 0 {
		return 32600 + zone, nil
	}
	return 32700 + zone, nil
}

// Reproject 重投影到新CRS
//
// CRS必须为"EPSG:"前缀的可解析代码。
func (si *SatImage) Reproject(crs string) *SatImage {
	if si.err != nil {
		return si
	}
	if si.ds == nil {
		return si.fail(errEmpty())
	}
	code, err := parseEPSG(crs)
	if err != nil {
		return si.fail(err)
	}
	sr, err := godal.NewSpatialRefFromEPSG(code)
	if err != nil {
		return si.failf("CRS %s is not resolvable: %w", crs, err)
	}
	sr.Close()
	warped, err := si.ds.Warp("", []string{"-t_srs", crs}, godal.Memory)
	if err != nil {
		return si.failf("failed to reproject to %s: %w", crs, err)
	}
	si.replaceDataset(warped)
	si.logAction("reproject", map[string]any{"crs": crs})
	return si
}

func parseEPSG(crs string) (int, error) {
	if !strings.HasPrefix(strings.ToUpper(crs), "EPSG:") {
		return 0, fmt.Errorf("crs should be a string starting with 'EPSG:', got %q", crs)
	}
	code, err := strconv.Atoi(crs[len("EPSG:"):])
	if err != nil {
		return 0, fmt.Errorf("invalid EPSG code in %q: %w", crs, err)
	}
	return code, nil
}

// Rescale 按比例因子重采样
//
// 因子乘到像素尺寸上: 大于1降采样, 小于1升采样。
func (si *SatImage) Rescale(factor float64, resampling string) *SatImage {
	if si.err != nil {
		return si
	}
	if si.ds == nil {
		return si.fail(errEmpty())
	}
	if factor == 1 {
		return si
	}
	if factor <= 0 {
		return si.failf("rescale factor should be positive, got %g", factor)
	}
	if resampling == "" {
		resampling = "bilinear"
	}
	if !resampleMethods[resampling] {
		return si.failf("unsupported resampling method: %s", resampling)
	}
	st := si.ds.Structure()
	newWidth := int(math.Ceil(float64(st.SizeX) / factor))
	newHeight := int(math.Ceil(float64(st.SizeY) / factor))
	rescaled, err := si.ds.Translate("", []string{
		"-outsize", strconv.Itoa(newWidth), strconv.Itoa(newHeight),
		"-r", resampling,
	}, godal.Memory)
	if err != nil {
		return si.failf("failed to rescale image: %w", err)
	}
	si.replaceDataset(rescaled)
	si.logAction("rescale", map[string]any{"rescale": factor, "resampling": resampling})
	return si
}

// SetBandAliases 设置波段别名
//
// 别名数量必须等于波段数且互不重复。
func (si *SatImage) SetBandAliases(aliases []string) *SatImage {
	if si.err != nil {
		return si
	}
	if si.ds == nil {
		return si.fail(errEmpty())
	}
	nbands := si.ds.Structure().NBands
	if len(aliases) != nbands {
		return si.failf("alias list must have %d elements, got %d", nbands, len(aliases))
	}
	seen := map[string]bool{}
	for _, a := range aliases {
		if seen[a] {
			return si.failf("band alias '%s' not unique", a)
		}
		seen[a] = true
	}
	si.aliases = make([]string, len(aliases))
	copy(si.aliases, aliases)
	if err := si.storeAliases(); err != nil {
		return si.failf("failed to store band aliases: %w", err)
	}
	si.logAction("set_band_aliases", map[string]any{"aliases": aliases})
	return si
}

// ResetBandAliases 重置波段别名为默认编号格式("B1".."Bn")
func (si *SatImage) ResetBandAliases() *SatImage {
	if si.err != nil {
		return si
	}
	if si.ds == nil {
		return si.fail(errEmpty())
	}
	si.aliases = nil
	if err := si.storeAliases(); err != nil {
		return si.failf("failed to store band aliases: %w", err)
	}
	si.logAction("reset_band_aliases", nil)
	return si
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

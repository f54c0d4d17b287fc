// io.go
package satimg

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/google/uuid"
)

// bandAliasMetaKey 波段别名在数据集元数据中的键
const bandAliasMetaKey = "SATIMG_BAND_ALIASES"

// Read 读入栅格文件(GeoTIFF等GDAL支持的任意格式)
//
// 数据会被完整复制到内存数据集, 读入后立即校验影像格式。
func (si *SatImage) Read(path string) *SatImage {
	if si.err != nil {
		return si
	}
	ensureGDAL()
	src, err := godal.Open(path)
	if err != nil {
		return si.failf("failed to open image %s: %w", path, err)
	}
	defer src.Close()
	mem, err := toMemory(src)
	if err != nil {
		return si.fail(err)
	}
	si.replaceDataset(mem)
	si.restoreAliases()
	si.logAction("read", map[string]any{"file": path})
	if err := si.CheckFormat(); err != nil {
		return si.failf("image format is not valid: %w", err)
	}
	return si
}

// ReadDataset 接管一个已有GDAL数据集
//
// 数据集会被复制到内存, 调用方保留原数据集的关闭责任。
func (si *SatImage) ReadDataset(ds *godal.Dataset) *SatImage {
	if si.err != nil {
		return si
	}
	if ds == nil {
		return si.failf("dataset is nil")
	}
	ensureGDAL()
	mem, err := toMemory(ds)
	if err != nil {
		return si.fail(err)
	}
	si.replaceDataset(mem)
	si.restoreAliases()
	si.logAction("read", map[string]any{"file": "godal dataset"})
	if err := si.CheckFormat(); err != nil {
		return si.failf("image format is not valid: %w", err)
	}
	return si
}

// ReadBytes 读入内存中的GeoTIFF字节流
//
// 通过GDAL VSI处理器挂载字节缓冲, 无需落盘。
func (si *SatImage) ReadBytes(data []byte) *SatImage {
	if si.err != nil {
		return si
	}
	if len(data) == 0 {
		return si.failf("empty image buffer")
	}
	ensureGDAL()
	if err := registerBufferHandler(); err != nil {
		return si.fail(err)
	}
	key := uuid.NewString()
	bufferStore.Store(key, bytes.NewReader(data))
	defer bufferStore.Delete(key)

	src, err := godal.Open(vsiBufferPrefix + key)
	if err != nil {
		return si.failf("failed to open image buffer: %w", err)
	}
	defer src.Close()
	mem, err := toMemory(src)
	if err != nil {
		return si.fail(err)
	}
	si.replaceDataset(mem)
	si.restoreAliases()
	si.logAction("read", map[string]any{"file": "bytes buffer"})
	if err := si.CheckFormat(); err != nil {
		return si.failf("image format is not valid: %w", err)
	}
	return si
}

// restoreAliases 从数据集元数据恢复波段别名
func (si *SatImage) restoreAliases() {
	si.aliases = nil
	meta := si.ds.Metadata(bandAliasMetaKey)
	if meta == "" {
		return
	}
	aliases := strings.Split(meta, ",")
	if len(aliases) == si.ds.Structure().NBands {
		si.aliases = aliases
	}
}

// storeAliases 将波段别名写入数据集元数据(导出时随之持久化)
func (si *SatImage) storeAliases() error {
	return si.ds.SetMetadata(bandAliasMetaKey, strings.Join(si.BandAliases(), ","))
}

const vsiBufferPrefix = "satimg://"

var (
	bufferStore    sync.Map
	vsiOnce        sync.Once
	vsiRegisterErr error
)

type bufferKeyReader struct{}

func (bufferKeyReader) VSIReader(key string) (godal.VSIReader, error) {
	v, ok := bufferStore.Load(key)
	if !ok {
		return nil, fmt.Errorf("unknown image buffer: %s", key)
	}
	return v.(*bytes.Reader), nil
}

func registerBufferHandler() error {
	vsiOnce.Do(func() {
		vsiRegisterErr = godal.RegisterVSIHandler(vsiBufferPrefix, bufferKeyReader{})
	})
	if vsiRegisterErr != nil {
		return fmt.Errorf("failed to register buffer handler: %w", vsiRegisterErr)
	}
	return nil
}

// MergeOptions 影像合并选项
type MergeOptions struct {
	Backbone  *SatImage // 目标网格模板, 默认为第一幅影像
	PixelType PixelType // 合并后像素类型, 默认float32
	NoData    float64   // 合并后nodata值, 默认NaN
	Resample  string    // 重采样方法, 默认bilinear
}

// DefaultMergeOptions 默认合并选项
func DefaultMergeOptions() *MergeOptions {
	return &MergeOptions{
		PixelType: PixelFloat32,
		NoData:    math.NaN(),
		Resample:  "bilinear",
	}
}

// MergeImages 合并多幅影像的波段
//
// 所有影像先重投影到骨架影像的网格再按波段堆叠,
// 波段别名必须全局唯一。
func MergeImages(images []*SatImage, options *MergeOptions) (*SatImage, error) {
	ensureGDAL()
	if options == nil {
		options = DefaultMergeOptions()
	}
	if options.PixelType == "" {
		options.PixelType = PixelFloat32
	}
	if options.Resample == "" {
		options.Resample = "bilinear"
	}

	var valid []*SatImage
	for _, img := range images {
		if img != nil && !img.IsEmpty() {
			valid = append(valid, img)
		}
	}
	if len(valid) == 0 {
		return NewSatImage(), nil
	}

	backbone := options.Backbone
	if backbone == nil || backbone.IsEmpty() {
		backbone = valid[0]
	}
	bounds, err := backbone.Bounds()
	if err != nil {
		return nil, fmt.Errorf("failed to get backbone bounds: %w", err)
	}
	bst := backbone.ds.Structure()
	crs := backbone.CRS()

	dt, err := options.PixelType.DataType()
	if err != nil {
		return nil, err
	}

	// 目标数据集
	total := 0
	for _, img := range valid {
		total += img.BandCount()
	}
	dst, err := godal.Create(godal.Memory, "", total, dt, bst.SizeX, bst.SizeY)
	if err != nil {
		return nil, fmt.Errorf("failed to create merged dataset: %w", err)
	}
	gt, err := backbone.GeoTransform()
	if err != nil {
		dst.Close()
		return nil, err
	}
	if err := dst.SetGeoTransform(gt); err != nil {
		dst.Close()
		return nil, fmt.Errorf("failed to set merged geotransform: %w", err)
	}
	if sr := backbone.ds.SpatialRef(); sr != nil {
		err = dst.SetSpatialRef(sr)
		sr.Close()
		if err != nil {
			dst.Close()
			return nil, fmt.Errorf("failed to set merged CRS: %w", err)
		}
	}

	seen := map[string]bool{}
	var aliases []string
	bandPos := 0
	buf := make([]float64, bst.SizeX*bst.SizeY)
	for _, img := range valid {
		warped, err := img.ds.Warp("", []string{
			"-t_srs", crs,
			"-te", fmt.Sprintf("%f", bounds[0]), fmt.Sprintf("%f", bounds[1]),
			fmt.Sprintf("%f", bounds[2]), fmt.Sprintf("%f", bounds[3]),
			"-ts", fmt.Sprintf("%d", bst.SizeX), fmt.Sprintf("%d", bst.SizeY),
			"-r", options.Resample,
		}, godal.Memory)
		if err != nil {
			dst.Close()
			return nil, fmt.Errorf("failed to match image to backbone: %w", err)
		}
		for bi, band := range warped.Bands() {
			alias := img.BandAliases()[bi]
			if seen[alias] {
				warped.Close()
				dst.Close()
				return nil, fmt.Errorf("band alias '%s' not unique", alias)
			}
			seen[alias] = true
			aliases = append(aliases, alias)
			if err := band.Read(0, 0, buf, bst.SizeX, bst.SizeY); err != nil {
				warped.Close()
				dst.Close()
				return nil, fmt.Errorf("failed to read band '%s': %w", alias, err)
			}
			if err := dst.Bands()[bandPos].Write(0, 0, buf, bst.SizeX, bst.SizeY); err != nil {
				warped.Close()
				dst.Close()
				return nil, fmt.Errorf("failed to write band '%s': %w", alias, err)
			}
			bandPos++
		}
		warped.Close()
	}
	if err := dst.SetNoData(options.NoData); err != nil {
		dst.Close()
		return nil, fmt.Errorf("failed to set merged nodata: %w", err)
	}

	merged := NewSatImage()
	merged.ds = dst
	merged.logAction("merge", map[string]any{
		"images":    len(valid),
		"pixelType": string(options.PixelType),
	})
	if merged = merged.SetBandAliases(aliases); merged.err != nil {
		return nil, merged.err
	}
	return merged, nil
}

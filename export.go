// export.go
package satimg

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"strconv"

	"github.com/airbusgeo/godal"
	"github.com/google/uuid"
)

// Copy 深拷贝影像
func (si *SatImage) Copy() (*SatImage, error) {
	if si.ds == nil {
		return nil, errEmpty()
	}
	mem, err := toMemory(si.ds)
	if err != nil {
		return nil, err
	}
	dup := NewSatImage()
	dup.ds = mem
	dup.aliases = append([]string{}, si.aliases...)
	dup.acqTime = si.acqTime
	dup.log = append([]LogEntry{}, si.log...)
	dup.logAction("copy", nil)
	return dup, nil
}

// ExtractBands 抽取波段子集
//
// 按别名选择波段, 返回仅含指定波段的新影像, 顺序与参数一致。
func (si *SatImage) ExtractBands(aliases []string) (*SatImage, error) {
	if si.ds == nil {
		return nil, errEmpty()
	}
	if len(aliases) == 0 {
		return nil, fmt.Errorf("no bands selected")
	}
	switches := make([]string, 0, 2*len(aliases))
	for _, alias := range aliases {
		bi, err := si.bandIndex(alias)
		if err != nil {
			return nil, err
		}
		switches = append(switches, "-b", strconv.Itoa(bi+1))
	}
	sub, err := si.ds.Translate("", switches, godal.Memory)
	if err != nil {
		return nil, fmt.Errorf("failed to extract bands: %w", err)
	}
	out := NewSatImage()
	out.ds = sub
	out.acqTime = si.acqTime
	out.log = append([]LogEntry{}, si.log...)
	out.logAction("extract_bands", map[string]any{"bands": aliases})
	if out = out.SetBandAliases(aliases); out.err != nil {
		return nil, out.err
	}
	return out, nil
}

// TIFFOptions GeoTIFF导出选项
type TIFFOptions struct {
	Compress  string // 压缩方法, 默认LZW
	Predictor int    // 压缩预测器, 默认1
}

// DefaultTIFFOptions 默认GeoTIFF导出选项
func DefaultTIFFOptions() *TIFFOptions {
	return &TIFFOptions{Compress: "LZW", Predictor: 1}
}

// ToTIFF 导出GeoTIFF文件
//
// 像素值、CRS、nodata和波段别名随文件持久化,
// 无损压缩下读回结果与导出前逐位一致。
func (si *SatImage) ToTIFF(path string, options *TIFFOptions) *SatImage {
	if si.err != nil {
		return si
	}
	if si.ds == nil {
		return si.fail(errEmpty())
	}
	if err := si.writeTIFF(path, options); err != nil {
		return si.fail(err)
	}
	si.logAction("to_tiff", map[string]any{"file": path})
	return si
}

// ToTIFFBytes 导出GeoTIFF字节流
func (si *SatImage) ToTIFFBytes(options *TIFFOptions) ([]byte, error) {
	if si.ds == nil {
		return nil, errEmpty()
	}
	path := fmt.Sprintf("/vsimem/satimg_out_%s.tif", uuid.NewString())
	if err := si.writeTIFF(path, options); err != nil {
		return nil, err
	}
	defer godal.VSIUnlink(path)
	vf, err := godal.VSIOpen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open exported buffer: %w", err)
	}
	defer vf.Close()
	data, err := io.ReadAll(vf)
	if err != nil {
		return nil, fmt.Errorf("failed to read exported buffer: %w", err)
	}
	return data, nil
}

func (si *SatImage) writeTIFF(path string, options *TIFFOptions) error {
	if options == nil {
		options = DefaultTIFFOptions()
	}
	if options.Compress == "" {
		options.Compress = "LZW"
	}
	if options.Predictor == 0 {
		options.Predictor = 1
	}
	if err := si.storeAliases(); err != nil {
		return fmt.Errorf("failed to store band aliases: %w", err)
	}
	out, err := si.ds.Translate(path, nil,
		godal.GTiff,
		godal.CreationOption(
			"COMPRESS="+options.Compress,
			fmt.Sprintf("PREDICTOR=%d", options.Predictor),
		))
	if err != nil {
		return fmt.Errorf("failed to write GeoTIFF %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to finalize GeoTIFF %s: %w", path, err)
	}
	return nil
}

// ToPNG 导出PNG文件
//
// 影像必须是4波段uint8的RGBA(RenderIndex的输出)。
func (si *SatImage) ToPNG(path string) *SatImage {
	if si.err != nil {
		return si
	}
	data, err := si.ToPNGBytes()
	if err != nil {
		return si.fail(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return si.failf("failed to write PNG %s: %w", path, err)
	}
	si.logAction("to_png", map[string]any{"file": path})
	return si
}

// ToPNGBytes 导出PNG字节流
func (si *SatImage) ToPNGBytes() ([]byte, error) {
	if si.ds == nil {
		return nil, errEmpty()
	}
	st := si.ds.Structure()
	if st.NBands != 4 {
		return nil, fmt.Errorf("image should have 4 bands for RGBA mode, got %d", st.NBands)
	}
	if st.DataType != godal.Byte {
		return nil, fmt.Errorf("image should have uint8 dtype for PNG mode, got %s", pixelTypeOf(st.DataType))
	}
	// 像素交织读取, 直接作为NRGBA像素缓冲
	pix := make([]uint8, st.SizeX*st.SizeY*4)
	if err := si.ds.Read(0, 0, pix, st.SizeX, st.SizeY); err != nil {
		return nil, fmt.Errorf("failed to read RGBA pixels: %w", err)
	}
	img := &image.NRGBA{
		Pix:    pix,
		Stride: st.SizeX * 4,
		Rect:   image.Rect(0, 0, st.SizeX, st.SizeY),
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// satimage.go
package satimg

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/airbusgeo/godal"
)

// PixelType 像素数据类型
type PixelType string

const (
	PixelUInt8   PixelType = "uint8"
	PixelUInt16  PixelType = "uint16"
	PixelInt16   PixelType = "int16"
	PixelUInt32  PixelType = "uint32"
	PixelInt32   PixelType = "int32"
	PixelFloat32 PixelType = "float32"
	PixelFloat64 PixelType = "float64"
)

var pixelTypes = map[PixelType]godal.DataType{
	PixelUInt8:   godal.Byte,
	PixelUInt16:  godal.UInt16,
	PixelInt16:   godal.Int16,
	PixelUInt32:  godal.UInt32,
	PixelInt32:   godal.Int32,
	PixelFloat32: godal.Float32,
	PixelFloat64: godal.Float64,
}

// DataType 转换为GDAL数据类型
func (pt PixelType) DataType() (godal.DataType, error) {
	dt, ok := pixelTypes[PixelType(strings.ToLower(string(pt)))]
	if !ok {
		return godal.Unknown, fmt.Errorf("unsupported pixel type: %s", pt)
	}
	return dt, nil
}

// IsFloat 是否为浮点类型
func (pt PixelType) IsFloat() bool {
	return pt == PixelFloat32 || pt == PixelFloat64
}

func pixelTypeOf(dt godal.DataType) PixelType {
	for pt, d := range pixelTypes {
		if d == dt {
			return pt
		}
	}
	return PixelType(strings.ToLower(dt.String()))
}

// LogEntry 操作日志条目
type LogEntry struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// SatImage 卫星影像流式处理器
//
// SatImage持有一个内存GDAL数据集(波段×行×列)、坐标参考系统、
// nodata哨兵值和波段别名。所有变换方法返回SatImage本身以支持链式调用,
// 第一个失败的操作会被锁存,后续链式调用变为空操作,最终通过Err()获取。
type SatImage struct {
	ds      *godal.Dataset
	aliases []string
	acqTime time.Time
	log     []LogEntry
	err     error
}

var gdalOnce sync.Once

func ensureGDAL() {
	gdalOnce.Do(godal.RegisterAll)
}

// NewSatImage 创建空的影像处理器
func NewSatImage() *SatImage {
	ensureGDAL()
	return &SatImage{
		log: []LogEntry{{Action: "initialize"}},
	}
}

// Err 返回链式调用中锁存的第一个错误
func (si *SatImage) Err() error {
	return si.err
}

func (si *SatImage) fail(err error) *SatImage {
	if si.err == nil {
		si.err = err
	}
	return si
}

func (si *SatImage) failf(format string, args ...any) *SatImage {
	return si.fail(fmt.Errorf(format, args...))
}

// errEmpty 空影像统一错误
func errEmpty() error {
	return fmt.Errorf("image is empty")
}

// Close 释放底层数据集
func (si *SatImage) Close() error {
	if si.ds == nil {
		return nil
	}
	err := si.ds.Close()
	si.ds = nil
	return err
}

// replaceDataset 用新数据集替换当前负载并释放旧数据集
func (si *SatImage) replaceDataset(ds *godal.Dataset) {
	if si.ds != nil {
		si.ds.Close()
	}
	si.ds = ds
}

// toMemory 将任意数据集复制为MEM驱动的内存数据集
func toMemory(ds *godal.Dataset) (*godal.Dataset, error) {
	mem, err := ds.Translate("", nil, godal.Memory)
	if err != nil {
		return nil, fmt.Errorf("failed to copy dataset to memory: %w", err)
	}
	return mem, nil
}

// String 影像摘要
func (si *SatImage) String() string {
	if si.ds == nil {
		return "SatImage(Empty)"
	}
	st := si.ds.Structure()
	info := []string{
		fmt.Sprintf("shape=(%d, %d)", st.SizeY, st.SizeX),
		fmt.Sprintf("dtype=%s", pixelTypeOf(st.DataType)),
	}
	if nd, ok := si.NoData(); ok {
		info = append(info, fmt.Sprintf("nodata=%g", nd))
	} else {
		info = append(info, "nodata=none")
	}
	info = append(info,
		fmt.Sprintf("crs=%s", si.CRS()),
		fmt.Sprintf("bands=%v", si.BandAliases()),
	)
	return fmt.Sprintf("SatImage(%s)", strings.Join(info, ", "))
}

// CheckFormat 校验影像格式
//
// 校验三个条件: 数据集存在、至少有一个波段、CRS已定义。
func (si *SatImage) CheckFormat() error {
	if si.ds == nil {
		return errEmpty()
	}
	st := si.ds.Structure()
	if st.NBands < 1 {
		return fmt.Errorf("image has no bands")
	}
	if si.ds.Projection() == "" {
		return fmt.Errorf("image has no CRS defined")
	}
	if len(si.aliases) > 0 && len(si.aliases) != st.NBands {
		return fmt.Errorf("band alias count %d does not match band count %d", len(si.aliases), st.NBands)
	}
	return nil
}

// AcquiredAt 影像获取时间(用于时序融合)
func (si *SatImage) AcquiredAt() time.Time {
	return si.acqTime
}

// SetAcquiredAt 设置影像获取时间
func (si *SatImage) SetAcquiredAt(t time.Time) *SatImage {
	si.acqTime = t
	return si
}

// Log 返回操作日志
func (si *SatImage) Log() []LogEntry {
	return si.log
}

// SetLog 重置操作日志
func (si *SatImage) SetLog(entries []LogEntry) *SatImage {
	si.log = entries
	return si
}

// AddLog 追加操作日志
func (si *SatImage) AddLog(entry LogEntry) *SatImage {
	si.log = append(si.log, entry)
	return si
}

func (si *SatImage) logAction(action string, params map[string]any) {
	si.log = append(si.log, LogEntry{Action: action, Params: params})
}

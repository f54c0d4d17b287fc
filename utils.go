// utils.go
package satimg

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
)

var (
	loggerOnce sync.Once
	logger     zerolog.Logger
)

// Logger 流水线日志器
//
// UTC毫秒时间戳, 输出到stdout。
func Logger() zerolog.Logger {
	loggerOnce.Do(func() {
		zerolog.TimeFieldFormat = "2006-01-02T15:04:05.000Z"
		zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	})
	return logger
}

// LogPipeline 输出一条流水线日志
func LogPipeline(msg string) {
	Logger().Info().Msg(msg)
}

// GenUUID 生成UUID4字符串
func GenUUID() string {
	return uuid.NewString()
}

// IsUUID 校验字符串是否为合法UUID4
func IsUUID(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	// uuid.Parse接受任意版本, 需显式校验版本号与规范形式
	return id.String() == s && id.Version() == 4
}

// GeoJSONHash 计算几何的确定性哈希
//
// 坐标先按gridSize网格对齐再序列化为GeoJSON,
// 返回SHA-256十六进制串。仅支持Polygon和MultiPolygon。
func GeoJSONHash(g orb.Geometry, gridSize float64) (string, error) {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
	default:
		return "", fmt.Errorf("invalid geometry type: %s", g.GeoJSONType())
	}
	if gridSize <= 0 {
		gridSize = 1e-8
	}
	snapped := snapGeometry(g, gridSize)
	data, err := geojson.NewGeometry(snapped).MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("failed to encode geometry: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// snapGeometry 将坐标对齐到gridSize网格
//
// orb没有精度对齐工具, 这里对坐标逐点舍入。
func snapGeometry(g orb.Geometry, gridSize float64) orb.Geometry {
	snap := func(p orb.Point) orb.Point {
		return orb.Point{
			math.Round(p[0]/gridSize) * gridSize,
			math.Round(p[1]/gridSize) * gridSize,
		}
	}
	snapRing := func(r orb.Ring) orb.Ring {
		out := make(orb.Ring, len(r))
		for i, p := range r {
			out[i] = snap(p)
		}
		return out
	}
	snapPolygon := func(p orb.Polygon) orb.Polygon {
		out := make(orb.Polygon, len(p))
		for i, r := range p {
			out[i] = snapRing(r)
		}
		return out
	}
	switch geom := g.(type) {
	case orb.Polygon:
		return snapPolygon(geom)
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(geom))
		for i, p := range geom {
			out[i] = snapPolygon(p)
		}
		return out
	}
	return g
}

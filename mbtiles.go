// mbtiles.go
package satimg

import (
	"bytes"
	"database/sql"
	"fmt"
	"image"
	"image/png"
	"math"
	"sync"

	"github.com/airbusgeo/godal"
	_ "github.com/mattn/go-sqlite3"
)

// ProgressCallback 进度回调, 返回false取消操作
type ProgressCallback func(progress float64, message string) bool

// webMercatorHalfWorld Web墨卡托世界半宽(米)
const webMercatorHalfWorld = 20037508.342789244

// MBTilesOptions MBTiles生成选项
type MBTilesOptions struct {
	TileSize int               // 瓦片大小, 默认256
	MinZoom  int               // 最小缩放级别, 默认0
	MaxZoom  int               // 最大缩放级别, 默认18
	Metadata map[string]string // 自定义元数据

	Concurrency      int              // 并发数, 默认4
	ProgressCallback ProgressCallback // 进度回调
}

// MBTilesGenerator 将RGBA影像切片为MBTiles
type MBTilesGenerator struct {
	source   *SatImage
	tileSize int
	minZoom  int
	maxZoom  int

	concurrency      int
	progressCallback ProgressCallback
}

type tileTask struct {
	Zoom int
	X    int
	Y    int
}

type tileResult struct {
	Zoom  int
	X     int
	Y     int
	Data  []byte
	Error error
}

// NewMBTilesGenerator 创建MBTiles生成器
//
// 输入影像必须是4波段uint8的RGBA(RenderIndex的输出)。
func NewMBTilesGenerator(si *SatImage, options *MBTilesOptions) (*MBTilesGenerator, error) {
	if si == nil || si.IsEmpty() {
		return nil, errEmpty()
	}
	st := si.ds.Structure()
	if st.NBands != 4 || st.DataType != godal.Byte {
		return nil, fmt.Errorf("mbtiles source should be a 4-band uint8 RGBA image")
	}
	if options == nil {
		options = &MBTilesOptions{}
	}
	if options.TileSize <= 0 {
		options.TileSize = 256
	}
	if options.MinZoom < 0 {
		options.MinZoom = 0
	}
	if options.MaxZoom <= 0 || options.MaxZoom > 22 {
		options.MaxZoom = 18
	}
	if options.MinZoom > options.MaxZoom {
		return nil, fmt.Errorf("minZoom %d should not exceed maxZoom %d", options.MinZoom, options.MaxZoom)
	}
	if options.Concurrency <= 0 {
		options.Concurrency = 4
	}
	return &MBTilesGenerator{
		source:           si,
		tileSize:         options.TileSize,
		minZoom:          options.MinZoom,
		maxZoom:          options.MaxZoom,
		concurrency:      options.Concurrency,
		progressCallback: options.ProgressCallback,
	}, nil
}

// Generate 生成MBTiles文件
func (gen *MBTilesGenerator) Generate(outputPath string, metadata map[string]string) error {
	// 预先重投影到Web墨卡托, 所有瓦片从该数据集切出
	warped, err := gen.source.ds.Warp("", []string{"-t_srs", "EPSG:3857"}, godal.Memory)
	if err != nil {
		return fmt.Errorf("failed to reproject to web mercator: %w", err)
	}
	defer warped.Close()

	db, err := sql.Open("sqlite3", outputPath)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	if err := gen.createTables(db); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	if err := gen.writeMetadata(db, warped, metadata); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := gen.generateTiles(db, warped); err != nil {
		return fmt.Errorf("failed to generate tiles: %w", err)
	}
	Logger().Info().Str("file", outputPath).Msg("mbtiles generation completed")
	return nil
}

// createTables 创建MBTiles数据库表
func (gen *MBTilesGenerator) createTables(db *sql.DB) error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS metadata (
			name TEXT,
			value TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS tiles (
			zoom_level INTEGER,
			tile_column INTEGER,
			tile_row INTEGER,
			tile_data BLOB
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS tile_index ON tiles (zoom_level, tile_column, tile_row)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS metadata_index ON metadata (name)`,
	}
	for _, schema := range schemas {
		if _, err := db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// writeMetadata 写入MBTiles元数据
func (gen *MBTilesGenerator) writeMetadata(db *sql.DB, warped *godal.Dataset, custom map[string]string) error {
	wgs84, err := warped.Warp("", []string{"-t_srs", "EPSG:4326"}, godal.Memory)
	if err != nil {
		return err
	}
	bounds, err := wgs84.Bounds()
	wgs84.Close()
	if err != nil {
		return err
	}

	metadata := map[string]string{
		"name":        "satimg tiles",
		"type":        "overlay",
		"version":     "1.0",
		"description": "Tiles generated from satellite raster image",
		"format":      "png",
		"bounds":      fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", bounds[0], bounds[1], bounds[2], bounds[3]),
		"center":      fmt.Sprintf("%.6f,%.6f,%d", (bounds[0]+bounds[2])/2, (bounds[1]+bounds[3])/2, gen.minZoom),
		"minzoom":     fmt.Sprintf("%d", gen.minZoom),
		"maxzoom":     fmt.Sprintf("%d", gen.maxZoom),
	}
	for k, v := range custom {
		metadata[k] = v
	}

	// 重复生成时覆盖同名元数据
	stmt, err := db.Prepare("INSERT OR REPLACE INTO metadata (name, value) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for k, v := range metadata {
		if _, err := stmt.Exec(k, v); err != nil {
			return err
		}
	}
	return nil
}

// tileRange 计算指定级别与数据范围相交的瓦片范围
func tileRange(bounds [4]float64, zoom int) (minX, minY, maxX, maxY int) {
	n := float64(int(1) << zoom)
	span := 2 * webMercatorHalfWorld / n
	clampTile := func(t float64) int {
		if t < 0 {
			return 0
		}
		if t > n-1 {
			return int(n) - 1
		}
		return int(t)
	}
	minX = clampTile(math.Floor((bounds[0] + webMercatorHalfWorld) / span))
	maxX = clampTile(math.Floor((bounds[2] + webMercatorHalfWorld) / span))
	minY = clampTile(math.Floor((webMercatorHalfWorld - bounds[3]) / span))
	maxY = clampTile(math.Floor((webMercatorHalfWorld - bounds[1]) / span))
	return minX, minY, maxX, maxY
}

// tileBounds XYZ瓦片在Web墨卡托下的范围
func tileBounds(zoom, x, y int) [4]float64 {
	n := float64(int(1) << zoom)
	span := 2 * webMercatorHalfWorld / n
	minX := -webMercatorHalfWorld + float64(x)*span
	maxY := webMercatorHalfWorld - float64(y)*span
	return [4]float64{minX, maxY - span, minX + span, maxY}
}

// estimateTileCount 估算总瓦片数
func (gen *MBTilesGenerator) estimateTileCount(bounds [4]float64) int {
	total := 0
	for zoom := gen.minZoom; zoom <= gen.maxZoom; zoom++ {
		minX, minY, maxX, maxY := tileRange(bounds, zoom)
		total += (maxX - minX + 1) * (maxY - minY + 1)
	}
	return total
}

// renderTile 切出单个瓦片并编码为PNG
func renderTile(warped *godal.Dataset, zoom, x, y, tileSize int) ([]byte, error) {
	tb := tileBounds(zoom, x, y)
	tile, err := warped.Warp("", []string{
		"-te", fmt.Sprintf("%f", tb[0]), fmt.Sprintf("%f", tb[1]),
		fmt.Sprintf("%f", tb[2]), fmt.Sprintf("%f", tb[3]),
		"-ts", fmt.Sprintf("%d", tileSize), fmt.Sprintf("%d", tileSize),
		"-r", "bilinear",
	}, godal.Memory)
	if err != nil {
		return nil, fmt.Errorf("failed to warp tile: %w", err)
	}
	defer tile.Close()

	pix := make([]uint8, tileSize*tileSize*4)
	if err := tile.Read(0, 0, pix, tileSize, tileSize); err != nil {
		return nil, fmt.Errorf("failed to read tile pixels: %w", err)
	}
	// 全透明瓦片跳过
	empty := true
	for i := 3; i < len(pix); i += 4 {
		if pix[i] != 0 {
			empty = false
			break
		}
	}
	if empty {
		return nil, nil
	}
	img := &image.NRGBA{
		Pix:    pix,
		Stride: tileSize * 4,
		Rect:   image.Rect(0, 0, tileSize, tileSize),
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode tile: %w", err)
	}
	return buf.Bytes(), nil
}

// generateTiles 生成所有瓦片
//
// 工作协程各自持有Web墨卡托数据集的内存副本,
// 写入协程独占数据库句柄。
func (gen *MBTilesGenerator) generateTiles(db *sql.DB, warped *godal.Dataset) error {
	bounds, err := warped.Bounds()
	if err != nil {
		return err
	}
	estimatedTotal := gen.estimateTileCount(bounds)
	if gen.progressCallback != nil {
		if !gen.progressCallback(0, "Starting tile generation") {
			return fmt.Errorf("operation cancelled by user")
		}
	}

	stmt, err := db.Prepare("INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	taskChan := make(chan tileTask, 256)
	resultChan := make(chan tileResult, 256)

	// GDAL数据集句柄不支持并发读, 每个工作协程持有独立的内存副本
	locals := make([]*godal.Dataset, gen.concurrency)
	for i := range locals {
		local, err := toMemory(warped)
		if err != nil {
			for j := 0; j < i; j++ {
				locals[j].Close()
			}
			return fmt.Errorf("failed to prepare tile worker: %w", err)
		}
		locals[i] = local
	}

	var wg sync.WaitGroup
	for i := 0; i < gen.concurrency; i++ {
		wg.Add(1)
		go func(local *godal.Dataset) {
			defer wg.Done()
			defer local.Close()
			for task := range taskChan {
				data, err := renderTile(local, task.Zoom, task.X, task.Y, gen.tileSize)
				resultChan <- tileResult{Zoom: task.Zoom, X: task.X, Y: task.Y, Data: data, Error: err}
			}
		}(locals[i])
	}

	go func() {
		defer close(taskChan)
		for zoom := gen.minZoom; zoom <= gen.maxZoom; zoom++ {
			minX, minY, maxX, maxY := tileRange(bounds, zoom)
			for x := minX; x <= maxX; x++ {
				for y := minY; y <= maxY; y++ {
					taskChan <- tileTask{Zoom: zoom, X: x, Y: y}
				}
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	written := 0
	processed := 0
	for result := range resultChan {
		processed++
		if result.Error != nil {
			Logger().Warn().
				Int("zoom", result.Zoom).Int("x", result.X).Int("y", result.Y).
				Err(result.Error).Msg("failed to generate tile")
			continue
		}
		if result.Data == nil {
			continue
		}
		// MBTiles采用TMS行号, 自底向上
		tmsRow := (1 << result.Zoom) - 1 - result.Y
		if _, err := stmt.Exec(result.Zoom, result.X, tmsRow, result.Data); err != nil {
			Logger().Warn().
				Int("zoom", result.Zoom).Int("x", result.X).Int("y", result.Y).
				Err(err).Msg("failed to insert tile")
			continue
		}
		written++
		if processed%100 == 0 && gen.progressCallback != nil {
			progress := float64(processed) / float64(estimatedTotal)
			if !gen.progressCallback(progress, fmt.Sprintf("Generated %d/%d tiles", processed, estimatedTotal)) {
				// 排空剩余结果, 让工作协程自然退出
				go func() {
					for range resultChan {
					}
				}()
				return fmt.Errorf("operation cancelled by user")
			}
		}
	}
	if gen.progressCallback != nil {
		gen.progressCallback(1.0, fmt.Sprintf("Successfully generated %d tiles", written))
	}
	return nil
}

// catalog.go
package satimg

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/paulmach/orb/geojson"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SceneRecord 场景目录记录
type SceneRecord struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Path       string    `gorm:"index" json:"path"`
	CRS        string    `json:"crs"`
	PixelType  string    `json:"pixel_type"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	BandCount  int       `json:"band_count"`
	Aliases    string    `json:"aliases"`  // JSON数组
	Bounds     string    `json:"bounds"`   // GeoJSON几何
	Stats      string    `json:"stats"`    // JSON对象, 波段别名→统计
	Operations string    `json:"operations"` // JSON数组, 操作日志
	AcquiredAt time.Time `json:"acquired_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName 场景表名
func (SceneRecord) TableName() string {
	return "scenes"
}

// Catalog 基于SQLite的场景目录
type Catalog struct {
	db *gorm.DB
}

// OpenCatalog 打开(或创建)场景目录数据库
func OpenCatalog(path string) (*Catalog, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog %s: %w", path, err)
	}
	if err := db.AutoMigrate(&SceneRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate catalog schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

// DB 返回底层gorm句柄
func (c *Catalog) DB() *gorm.DB {
	return c.db
}

// SaveScene 将影像登记到目录
//
// 记录空间元数据、波段统计和完整操作日志, 返回生成的场景记录。
func (c *Catalog) SaveScene(si *SatImage, path string) (*SceneRecord, error) {
	if si == nil || si.IsEmpty() {
		return nil, errEmpty()
	}
	stats, err := si.BandStats(3)
	if err != nil {
		return nil, fmt.Errorf("failed to compute scene stats: %w", err)
	}
	boundary, err := si.Boundary()
	if err != nil {
		return nil, fmt.Errorf("failed to compute scene boundary: %w", err)
	}
	boundsJSON, err := geojson.NewGeometry(boundary).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode scene boundary: %w", err)
	}
	aliasesJSON, err := json.Marshal(si.BandAliases())
	if err != nil {
		return nil, fmt.Errorf("failed to encode band aliases: %w", err)
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return nil, fmt.Errorf("failed to encode scene stats: %w", err)
	}
	opsJSON, err := json.Marshal(si.Log())
	if err != nil {
		return nil, fmt.Errorf("failed to encode operation log: %w", err)
	}

	rec := &SceneRecord{
		ID:         GenUUID(),
		Path:       path,
		CRS:        si.CRS(),
		PixelType:  string(si.PixelType()),
		Width:      si.Width(),
		Height:     si.Height(),
		BandCount:  si.BandCount(),
		Aliases:    string(aliasesJSON),
		Bounds:     string(boundsJSON),
		Stats:      string(statsJSON),
		Operations: string(opsJSON),
		AcquiredAt: si.AcquiredAt(),
	}
	if err := c.db.Create(rec).Error; err != nil {
		return nil, fmt.Errorf("failed to save scene: %w", err)
	}
	return rec, nil
}

// Scene 按ID查询场景
func (c *Catalog) Scene(id string) (*SceneRecord, error) {
	var rec SceneRecord
	if err := c.db.First(&rec, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to get scene %s: %w", id, err)
	}
	return &rec, nil
}

// Scenes 按登记时间倒序列出全部场景
func (c *Catalog) Scenes() ([]SceneRecord, error) {
	var recs []SceneRecord
	if err := c.db.Order("created_at DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list scenes: %w", err)
	}
	return recs, nil
}

// DeleteScene 删除场景记录
func (c *Catalog) DeleteScene(id string) error {
	res := c.db.Delete(&SceneRecord{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete scene %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("scene %s not found", id)
	}
	return nil
}

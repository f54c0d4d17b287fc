/*
Copyright (C) 2025 [GrainArc]

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package satimg

import (
	"math"
	"os"

	"github.com/joho/godotenv"
)

// 默认影像参数
const (
	DefaultCRS      = "EPSG:4326"
	DefaultFormat   = "GTiff"
	DefaultColormap = "viridis"
)

// DefaultNoData 默认nodata哨兵值
var DefaultNoData = math.NaN()

// MainConfig 全局配置
var MainConfig = Config{
	CRS:      DefaultCRS,
	Colormap: DefaultColormap,
}

type Config struct {
	CRS      string // 默认坐标参考系统
	Colormap string // 默认渲染色带
	Catalog  string // 场景目录数据库路径
}

func init() {
	// .env文件不存在时静默跳过
	_ = godotenv.Load()
	if v := os.Getenv("SATIMG_CRS"); v != "" {
		MainConfig.CRS = v
	}
	if v := os.Getenv("SATIMG_COLORMAP"); v != "" {
		MainConfig.Colormap = v
	}
	if v := os.Getenv("SATIMG_CATALOG"); v != "" {
		MainConfig.Catalog = v
	}
}

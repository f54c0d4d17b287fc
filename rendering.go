// rendering.go
package satimg

import (
	"fmt"
	"strings"

	"github.com/mazznoer/colorgrad"
)

// colormaps 可用的渐变色带
var colormaps = map[string]func() colorgrad.Gradient{
	"viridis":  colorgrad.Viridis,
	"inferno":  colorgrad.Inferno,
	"magma":    colorgrad.Magma,
	"plasma":   colorgrad.Plasma,
	"cividis":  colorgrad.Cividis,
	"turbo":    colorgrad.Turbo,
	"rainbow":  colorgrad.Rainbow,
	"sinebow":  colorgrad.Sinebow,
	"warm":     colorgrad.Warm,
	"cool":     colorgrad.Cool,
	"spectral": colorgrad.Spectral,
	"rdylgn":   colorgrad.RdYlGn,
	"rdylbu":   colorgrad.RdYlBu,
	"rdbu":     colorgrad.RdBu,
	"brbg":     colorgrad.BrBG,
	"puor":     colorgrad.PuOr,
}

// Colormaps 支持的色带名称
func Colormaps() []string {
	names := make([]string, 0, len(colormaps))
	for name := range colormaps {
		names = append(names, name)
	}
	return names
}

func lookupColormap(name string) (colorgrad.Gradient, error) {
	f, ok := colormaps[strings.ToLower(name)]
	if !ok {
		return colorgrad.Gradient{}, fmt.Errorf("unknown colormap: %s", name)
	}
	return f(), nil
}

// RenderIndex 将单波段影像渲染为RGBA彩色影像
//
// 常用于光谱指数可视化。像素值按[vmin, vmax]归一化后查询色带,
// nodata像素alpha为0。返回新的4波段uint8影像, 波段别名为R/G/B/A。
func (si *SatImage) RenderIndex(vmin, vmax float64, colormap string) (*SatImage, error) {
	if si.ds == nil {
		return nil, errEmpty()
	}
	if si.ds.Structure().NBands != 1 {
		return nil, fmt.Errorf("image should have exactly one band, got %d", si.ds.Structure().NBands)
	}
	if vmin > vmax {
		return nil, fmt.Errorf("vmin %g should be less than vmax %g", vmin, vmax)
	}
	grad, err := lookupColormap(colormap)
	if err != nil {
		return nil, err
	}

	st := si.ds.Structure()
	values := make([]float64, st.SizeX*st.SizeY)
	if err := si.ds.Bands()[0].Read(0, 0, values, st.SizeX, st.SizeY); err != nil {
		return nil, fmt.Errorf("failed to read band 1: %w", err)
	}
	aoi, err := si.AOI()
	if err != nil {
		return nil, err
	}

	rgba, err := si.GenerateBackbone(4, PixelUInt8, 0, 0)
	if err != nil {
		return nil, err
	}
	span := vmax - vmin
	channels := make([][]uint8, 4)
	for c := range channels {
		channels[c] = make([]uint8, len(values))
	}
	for i, v := range values {
		if !aoi[i] {
			continue
		}
		t := 0.0
		if span > 0 {
			t = (v - vmin) / span
		}
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
		r, g, b := grad.At(t).RGB255()
		channels[0][i] = r
		channels[1][i] = g
		channels[2][i] = b
		channels[3][i] = 255
	}
	for c, band := range rgba.ds.Bands() {
		if err := band.Write(0, 0, channels[c], st.SizeX, st.SizeY); err != nil {
			rgba.Close()
			return nil, fmt.Errorf("failed to write channel %d: %w", c, err)
		}
	}
	rgba.logAction("render_index", map[string]any{
		"vmin": vmin, "vmax": vmax, "cmap": strings.ToLower(colormap),
	})
	if rgba = rgba.SetBandAliases([]string{"R", "G", "B", "A"}); rgba.err != nil {
		return nil, rgba.err
	}
	return rgba, nil
}

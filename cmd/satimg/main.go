// satimg 命令行工具
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	satimg "github.com/GrainArc/satimg"
)

func main() {
	root := &cobra.Command{
		Use:           "satimg",
		Short:         "Satellite raster image toolbox",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		infoCmd(),
		statsCmd(),
		indexCmd(),
		renderCmd(),
		convertCmd(),
		mbtilesCmd(),
	)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func openImage(path string) (*satimg.SatImage, error) {
	si := satimg.NewSatImage().Read(path)
	if err := si.Err(); err != nil {
		return nil, err
	}
	return si, nil
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <tif>",
		Short: "Show image shape, pixel type, CRS, nodata and band aliases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			si, err := openImage(args[0])
			if err != nil {
				return err
			}
			defer si.Close()
			fmt.Printf("File:       %s\n", args[0])
			fmt.Printf("Size:       %d x %d\n", si.Width(), si.Height())
			fmt.Printf("Bands:      %d\n", si.BandCount())
			fmt.Printf("PixelType:  %s\n", si.PixelType())
			fmt.Printf("CRS:        %s\n", si.CRS())
			if nodata, ok := si.NoData(); ok {
				fmt.Printf("NoData:     %g\n", nodata)
			} else {
				fmt.Printf("NoData:     (none)\n")
			}
			fmt.Printf("Aliases:    %s\n", strings.Join(si.BandAliases(), ", "))
			if bounds, err := si.Bounds(); err == nil {
				fmt.Printf("Bounds:     [%g, %g, %g, %g]\n", bounds[0], bounds[1], bounds[2], bounds[3])
			}
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	var digits int
	cmd := &cobra.Command{
		Use:   "stats <tif>",
		Short: "Print per-band statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			si, err := openImage(args[0])
			if err != nil {
				return err
			}
			defer si.Close()
			stats, err := si.BandStats(digits)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().IntVar(&digits, "digits", 3, "decimal digits to round statistics to")
	return cmd
}

// indexFile 指数方程配置文件
//
//	indices:
//	  NDVI: "(B[4] - B[3]) / (B[4] + B[3])"
//	  EVI:  "2.5 * (B[4] - B[3]) / (B[4] + 6*B[3] - 7.5*B[1] + 1)"
type indexFile struct {
	Indices map[string]string `yaml:"indices"`
}

func indexCmd() *cobra.Command {
	var configPath string
	var outputDir string
	cmd := &cobra.Command{
		Use:   "index <tif>",
		Short: "Compute spectral indices from a YAML equation file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(configPath)
			if err != nil {
				return fmt.Errorf("failed to read equation file: %w", err)
			}
			var config indexFile
			if err := yaml.Unmarshal(raw, &config); err != nil {
				return fmt.Errorf("failed to parse equation file: %w", err)
			}
			if len(config.Indices) == 0 {
				return fmt.Errorf("no indices defined in %s", configPath)
			}
			si, err := openImage(args[0])
			if err != nil {
				return err
			}
			defer si.Close()
			if err := os.MkdirAll(outputDir, 0o755); err != nil {
				return err
			}
			results, err := si.CalculateIndex(config.Indices)
			if err != nil {
				return err
			}
			for _, result := range results {
				name := result.BandAliases()[0]
				outPath := filepath.Join(outputDir, name+".tif")
				if err := result.ToTIFF(outPath, nil).Err(); err != nil {
					return err
				}
				result.Close()
				fmt.Printf("Wrote %s\n", outPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "indices.yaml", "YAML file with index equations")
	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "output directory")
	return cmd
}

func renderCmd() *cobra.Command {
	var output string
	var vmin, vmax float64
	var colormap string
	cmd := &cobra.Command{
		Use:   "render <tif>",
		Short: "Render a single-band image to a colored PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			si, err := openImage(args[0])
			if err != nil {
				return err
			}
			defer si.Close()
			rendered, err := si.RenderIndex(vmin, vmax, colormap)
			if err != nil {
				return err
			}
			defer rendered.Close()
			if err := rendered.ToPNG(output).Err(); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "out.png", "output PNG path")
	cmd.Flags().Float64Var(&vmin, "min", -1, "value mapped to the colormap start")
	cmd.Flags().Float64Var(&vmax, "max", 1, "value mapped to the colormap end")
	cmd.Flags().StringVar(&colormap, "cmap", satimg.MainConfig.Colormap, "colormap name, one of: "+strings.Join(satimg.Colormaps(), ", "))
	return cmd
}

func convertCmd() *cobra.Command {
	var pixelType string
	var crs string
	var rescale float64
	var resampling string
	var compress string
	cmd := &cobra.Command{
		Use:   "convert <in> <out>",
		Short: "Convert a GeoTIFF with optional pixel type, CRS and rescale changes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			si, err := openImage(args[0])
			if err != nil {
				return err
			}
			defer si.Close()
			if pixelType != "" {
				si.ConvertPixelType(satimg.PixelType(pixelType))
			}
			if crs != "" {
				si.Reproject(crs)
			}
			if rescale > 0 && rescale != 1 {
				si.Rescale(rescale, resampling)
			}
			out := args[1]
			if strings.EqualFold(filepath.Ext(out), ".png") {
				si.ToPNG(out)
			} else {
				options := satimg.DefaultTIFFOptions()
				if compress != "" {
					options.Compress = compress
				}
				si.ToTIFF(out, options)
			}
			if err := si.Err(); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&pixelType, "dtype", "", "target pixel type (uint8, uint16, int16, uint32, int32, float32, float64)")
	cmd.Flags().StringVar(&crs, "crs", "", "target CRS, e.g. EPSG:3857")
	cmd.Flags().Float64Var(&rescale, "rescale", 0, "downscale factor, e.g. 2 halves the resolution")
	cmd.Flags().StringVar(&resampling, "resampling", "nearest", "resampling method for rescale")
	cmd.Flags().StringVar(&compress, "compress", "", "GeoTIFF compression (LZW, DEFLATE, NONE)")
	return cmd
}

func mbtilesCmd() *cobra.Command {
	var minZoom, maxZoom, concurrency int
	var vmin, vmax float64
	var colormap string
	cmd := &cobra.Command{
		Use:   "mbtiles <tif> <out.mbtiles>",
		Short: "Tile an image into an MBTiles archive",
		Long: "Tile an image into an MBTiles archive.\n" +
			"A 4-band uint8 image is tiled as-is; a single-band image is first\n" +
			"rendered with the given colormap.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			si, err := openImage(args[0])
			if err != nil {
				return err
			}
			defer si.Close()
			source := si
			if si.BandCount() == 1 {
				rendered, err := si.RenderIndex(vmin, vmax, colormap)
				if err != nil {
					return err
				}
				defer rendered.Close()
				source = rendered
			}
			gen, err := satimg.NewMBTilesGenerator(source, &satimg.MBTilesOptions{
				MinZoom:     minZoom,
				MaxZoom:     maxZoom,
				Concurrency: concurrency,
				ProgressCallback: func(progress float64, message string) bool {
					fmt.Printf("\r[%3.0f%%] %s", progress*100, message)
					return true
				},
			})
			if err != nil {
				return err
			}
			if err := gen.Generate(args[1], nil); err != nil {
				fmt.Println()
				return err
			}
			fmt.Printf("\nWrote %s\n", args[1])
			return nil
		},
	}
	cmd.Flags().IntVar(&minZoom, "min-zoom", 0, "minimum zoom level")
	cmd.Flags().IntVar(&maxZoom, "max-zoom", 14, "maximum zoom level")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "number of tile workers")
	cmd.Flags().Float64Var(&vmin, "min", -1, "render range minimum for single-band input")
	cmd.Flags().Float64Var(&vmax, "max", 1, "render range maximum for single-band input")
	cmd.Flags().StringVar(&colormap, "cmap", satimg.MainConfig.Colormap, "colormap for single-band input")
	return cmd
}

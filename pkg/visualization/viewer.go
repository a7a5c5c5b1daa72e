// Package visualization exports the reconstructed volume for visual
// inspection: single 2-D cuts, sub-regions, and full slice sequences as
// grayscale JPEGs. Intensities are windowed to the volume's own range, so
// the export works for arbitrary input scaling.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/miltoncamacho/ggr-recon/internal/models"
)

// Viewer wraps a reconstructed volume for slice extraction and export.
type Viewer struct {
	vol *models.Volume

	// window bounds for mapping intensities onto 16-bit gray
	lo, hi float64
}

// NewViewer creates a viewer for the given volume, windowed to the volume's
// intensity range.
func NewViewer(vol *models.Volume) *Viewer {
	lo, hi := vol.Data[0], vol.Data[0]
	for _, v := range vol.Data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return &Viewer{vol: vol, lo: lo, hi: hi}
}

// gray maps an intensity into the 16-bit display window.
func (v *Viewer) gray(val float64) color.Gray16 {
	if v.hi <= v.lo {
		return color.Gray16{}
	}
	f := (val - v.lo) / (v.hi - v.lo)
	if f < 0 {
		f = 0
	} else if f > 1 {
		f = 1
	}
	return color.Gray16{Y: uint16(f * 65535)}
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.Gray16

	switch axis {
	case "x", "X":
		// YZ plane
		if position >= v.vol.Nx {
			return nil, fmt.Errorf("position %d exceeds x extent %d", position, v.vol.Nx)
		}
		img = image.NewGray16(image.Rect(0, 0, v.vol.Nz, v.vol.Ny))
		for y := 0; y < v.vol.Ny; y++ {
			for z := 0; z < v.vol.Nz; z++ {
				img.SetGray16(z, y, v.gray(v.vol.At(position, y, z)))
			}
		}

	case "y", "Y":
		// XZ plane
		if position >= v.vol.Ny {
			return nil, fmt.Errorf("position %d exceeds y extent %d", position, v.vol.Ny)
		}
		img = image.NewGray16(image.Rect(0, 0, v.vol.Nx, v.vol.Nz))
		for z := 0; z < v.vol.Nz; z++ {
			for x := 0; x < v.vol.Nx; x++ {
				img.SetGray16(x, z, v.gray(v.vol.At(x, position, z)))
			}
		}

	case "z", "Z":
		// XY plane
		if position >= v.vol.Nz {
			return nil, fmt.Errorf("position %d exceeds z extent %d", position, v.vol.Nz)
		}
		img = image.NewGray16(image.Rect(0, 0, v.vol.Nx, v.vol.Ny))
		for y := 0; y < v.vol.Ny; y++ {
			for x := 0; x < v.vol.Nx; x++ {
				img.SetGray16(x, y, v.gray(v.vol.At(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// ExtractRegion extracts a 3D subregion from the volume
func (v *Viewer) ExtractRegion(startX, startY, startZ, sizeX, sizeY, sizeZ int) (*models.Volume, error) {
	if startX < 0 || startY < 0 || startZ < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}
	if sizeX <= 0 || sizeY <= 0 || sizeZ <= 0 {
		return nil, fmt.Errorf("size dimensions must be positive")
	}
	if startX+sizeX > v.vol.Nx || startY+sizeY > v.vol.Ny || startZ+sizeZ > v.vol.Nz {
		return nil, fmt.Errorf("region extends beyond volume boundaries")
	}

	region := &models.Volume{
		Data: make([]float64, sizeX*sizeY*sizeZ),
		Nx:   sizeX, Ny: sizeY, Nz: sizeZ,
		Origin: v.vol.VoxelToPhysical(
			float64(startX), float64(startY), float64(startZ)),
		Direction: v.vol.Direction,
		Spacing:   v.vol.Spacing,
	}
	for z := 0; z < sizeZ; z++ {
		for y := 0; y < sizeY; y++ {
			for x := 0; x < sizeX; x++ {
				region.Set(x, y, z, v.vol.At(startX+x, startY+y, startZ+z))
			}
		}
	}
	return region, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves a sequence of slices along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.vol.Nx
	case "y", "Y":
		maxPos = v.vol.Ny
	case "z", "Z":
		maxPos = v.vol.Nz
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

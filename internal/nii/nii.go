// Package nii is the file boundary of the reconstruction core: it loads
// acquisitions into Volumes and persists Volumes to disk. NIfTI-1 files are
// read through github.com/KyungWonPark/nifti; volumes are written as .npy
// arrays with a YAML sidecar carrying the physical-space header, which keeps
// the output readable from numpy without a NIfTI writer dependency.
package nii

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/KyungWonPark/nifti"
	"github.com/kshedden/gonpy"
	"gopkg.in/yaml.v3"

	"github.com/miltoncamacho/ggr-recon/internal/models"
)

// sidecar is the YAML header written next to each .npy volume.
type sidecar struct {
	Dims      [3]int     `yaml:"dims"`
	Origin    [3]float64 `yaml:"origin"`
	Direction [9]float64 `yaml:"direction"`
	Spacing   [3]float64 `yaml:"spacing"`
}

// LoadVolume reads a volume from path. NIfTI files (.nii, .nii.gz) go
// through the NIfTI reader; .npy files expect a YAML sidecar written by
// SaveVolume.
func LoadVolume(path string) (*models.Volume, error) {
	if strings.HasSuffix(path, ".npy") {
		return loadNpy(path)
	}
	return loadNifti(path)
}

func loadNifti(path string) (*models.Volume, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cannot access %s: %w", path, err)
	}

	var img nifti.Nifti1Image
	img.LoadImage(path, true)

	hdr := img.GetHeader()
	nx, ny, nz := int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return nil, fmt.Errorf("%s: degenerate image dimensions %dx%dx%d", path, nx, ny, nz)
	}

	v := &models.Volume{
		Data: make([]float64, nx*ny*nz),
		Nx:   nx, Ny: ny, Nz: nz,
	}

	idx := 0
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				v.Data[idx] = float64(img.GetAt(uint32(x), uint32(y), uint32(z), 0))
				idx++
			}
		}
	}

	if hdr.SformCode > 0 {
		// The sform rows carry direction*spacing per column plus the origin
		// in the last column.
		rows := [3][4]float32{hdr.SrowX, hdr.SrowY, hdr.SrowZ}
		for j := 0; j < 3; j++ {
			cx := float64(rows[0][j])
			cy := float64(rows[1][j])
			cz := float64(rows[2][j])
			norm := math.Sqrt(cx*cx + cy*cy + cz*cz)
			if norm == 0 {
				return nil, fmt.Errorf("%s: zero-length direction column %d", path, j)
			}
			v.Spacing[j] = norm
			v.Direction[0*3+j] = cx / norm
			v.Direction[1*3+j] = cy / norm
			v.Direction[2*3+j] = cz / norm
		}
		v.Origin = [3]float64{float64(rows[0][3]), float64(rows[1][3]), float64(rows[2][3])}
	} else {
		v.Direction = [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
		for j := 0; j < 3; j++ {
			v.Spacing[j] = float64(hdr.Pixdim[j+1])
			if v.Spacing[j] == 0 {
				v.Spacing[j] = 1
			}
		}
		v.Origin = [3]float64{float64(hdr.QoffsetX), float64(hdr.QoffsetY), float64(hdr.QoffsetZ)}
	}

	return v, nil
}

func loadNpy(path string) (*models.Volume, error) {
	r, err := gonpy.NewFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", path, err)
	}
	if len(r.Shape) != 3 {
		return nil, fmt.Errorf("%s: expected a 3-D array, got shape %v", path, r.Shape)
	}
	data, err := r.GetFloat64()
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	sc, err := readSidecar(sidecarPath(path))
	if err != nil {
		return nil, err
	}
	// npy shape is (z, y, x); the sidecar dims are (x, y, z).
	if r.Shape[0] != sc.Dims[2] || r.Shape[1] != sc.Dims[1] || r.Shape[2] != sc.Dims[0] {
		return nil, fmt.Errorf("%s: array shape %v does not match sidecar dims %v", path, r.Shape, sc.Dims)
	}

	return &models.Volume{
		Data: data,
		Nx:   sc.Dims[0], Ny: sc.Dims[1], Nz: sc.Dims[2],
		Origin:    sc.Origin,
		Direction: sc.Direction,
		Spacing:   sc.Spacing,
	}, nil
}

// SaveVolume writes v as a C-order (z, y, x) float64 .npy array plus a YAML
// sidecar holding the physical-space header.
func SaveVolume(path string, v *models.Volume) error {
	w, err := gonpy.NewFileWriter(path)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", path, err)
	}
	w.Shape = []int{v.Nz, v.Ny, v.Nx}
	if err := w.WriteFloat64(v.Data); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}

	sc := sidecar{
		Dims:      [3]int{v.Nx, v.Ny, v.Nz},
		Origin:    v.Origin,
		Direction: v.Direction,
		Spacing:   v.Spacing,
	}
	data, err := yaml.Marshal(&sc)
	if err != nil {
		return fmt.Errorf("cannot marshal header for %s: %w", path, err)
	}
	if err := os.WriteFile(sidecarPath(path), data, 0644); err != nil {
		return fmt.Errorf("cannot write header sidecar: %w", err)
	}
	return nil
}

func readSidecar(path string) (*sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read header sidecar %s: %w", path, err)
	}
	sc := &sidecar{}
	if err := yaml.Unmarshal(data, sc); err != nil {
		return nil, fmt.Errorf("cannot parse header sidecar %s: %w", path, err)
	}
	return sc, nil
}

func sidecarPath(npyPath string) string {
	return strings.TrimSuffix(npyPath, ".npy") + ".yaml"
}

package slide

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"
)

// ReadRaster loads a raster, choosing the decoder from the file extension:
// .tif/.tiff (georeferenced by a .tfw world file and a .prj sidecar) or an
// ENVI image (.img/.bsq/.dat with a .hdr header, or the .hdr itself).
func ReadRaster(path string) (*Raster, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return readTIFF(path)
	case ".img", ".bsq", ".dat", ".hdr":
		return readENVI(path)
	}
	return nil, fmt.Errorf("reading raster %s: %w", path, ErrUnsupportedFormat)
}

// WriteRaster writes r as a float32 band-sequential ENVI image plus header.
// The data file is path; the header is path with its extension replaced by .hdr.
func WriteRaster(path string, r *Raster) error {
	if r.Width == 0 || r.Height == 0 || len(r.Bands) == 0 {
		return ErrEmptyRaster
	}
	data, hdr := enviPaths(path)

	f, err := os.Create(data)
	if err != nil {
		return fmt.Errorf("creating raster file: %w", err)
	}
	w := bufio.NewWriter(f)
	buf := make([]byte, 4)
	for _, band := range r.Bands {
		for _, v := range band {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
			if _, err := w.Write(buf); err != nil {
				_ = f.Close()
				return fmt.Errorf("writing raster data: %w", err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing raster data: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing raster file: %w", err)
	}

	return os.WriteFile(hdr, []byte(enviHeader(r)), 0644)
}

func enviPaths(path string) (data, hdr string) {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	if strings.EqualFold(ext, ".hdr") {
		return base + ".img", path
	}
	return path, base + ".hdr"
}

func enviHeader(r *Raster) string {
	t := r.Transform
	var sb strings.Builder
	sb.WriteString("ENVI\n")
	sb.WriteString("description = {salad raster}\n")
	fmt.Fprintf(&sb, "samples = %d\n", r.Width)
	fmt.Fprintf(&sb, "lines = %d\n", r.Height)
	fmt.Fprintf(&sb, "bands = %d\n", len(r.Bands))
	sb.WriteString("header offset = 0\n")
	sb.WriteString("file type = ENVI Standard\n")
	sb.WriteString("data type = 4\n")
	sb.WriteString("interleave = bsq\n")
	sb.WriteString("byte order = 0\n")
	fmt.Fprintf(&sb, "map info = {Arbitrary, 1, 1, %s, %s, %s, %s}\n",
		formatFloat(t[0]), formatFloat(t[3]), formatFloat(t[1]), formatFloat(-t[5]))
	if r.Projection != "" {
		fmt.Fprintf(&sb, "coordinate system string = {%s}\n", r.Projection)
	}
	fmt.Fprintf(&sb, "data ignore value = %s\n", formatFloat(r.NoData))
	return sb.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// parseENVIHeader reads "key = value" pairs; braced values may span lines
func parseENVIHeader(rd io.Reader) (map[string]string, error) {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	fields := make(map[string]string)
	first := true
	var key string
	var pending strings.Builder
	open := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if first {
			first = false
			if line != "ENVI" {
				return nil, fmt.Errorf("not an ENVI header")
			}
			continue
		}
		if open {
			pending.WriteString(" ")
			pending.WriteString(line)
			if strings.Contains(line, "}") {
				fields[key] = strings.Trim(strings.TrimSpace(pending.String()), "{}")
				open = false
			}
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if strings.HasPrefix(v, "{") && !strings.Contains(v, "}") {
			pending.Reset()
			pending.WriteString(v)
			open = true
			continue
		}
		fields[key] = strings.Trim(v, "{} ")
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return fields, nil
}

func readENVI(path string) (*Raster, error) {
	data, hdr := enviPaths(path)

	hf, err := os.Open(hdr)
	if err != nil {
		return nil, fmt.Errorf("opening ENVI header: %w", err)
	}
	fields, err := parseENVIHeader(hf)
	_ = hf.Close()
	if err != nil {
		return nil, fmt.Errorf("parsing ENVI header %s: %w", hdr, err)
	}

	atoi := func(k string) (int, error) {
		v, err := strconv.Atoi(fields[k])
		if err != nil {
			return 0, fmt.Errorf("ENVI header field %q: %w", k, err)
		}
		return v, nil
	}
	width, err := atoi("samples")
	if err != nil {
		return nil, err
	}
	height, err := atoi("lines")
	if err != nil {
		return nil, err
	}
	nbands, err := atoi("bands")
	if err != nil {
		return nil, err
	}
	dtype, err := atoi("data type")
	if err != nil {
		return nil, err
	}
	offset, _ := strconv.Atoi(fields["header offset"])
	var order binary.ByteOrder = binary.LittleEndian
	if fields["byte order"] == "1" {
		order = binary.BigEndian
	}
	interleave := strings.ToLower(fields["interleave"])
	if interleave == "" {
		interleave = "bsq"
	}
	if width <= 0 || height <= 0 || nbands <= 0 {
		return nil, ErrEmptyRaster
	}

	size, decode, err := enviDecoder(dtype, order)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(data)
	if err != nil {
		return nil, fmt.Errorf("reading ENVI data: %w", err)
	}
	n := width * height
	if len(raw) < offset+n*nbands*size {
		return nil, fmt.Errorf("ENVI data %s is truncated: %d bytes, want %d", data, len(raw), offset+n*nbands*size)
	}
	raw = raw[offset:]

	r := &Raster{
		Width:      width,
		Height:     height,
		Transform:  enviTransform(fields["map info"]),
		Projection: fields["coordinate system string"],
		NoData:     DefaultNoData,
		Bands:      make([][]float64, nbands),
	}
	if v, err := strconv.ParseFloat(fields["data ignore value"], 64); err == nil {
		r.NoData = v
	}

	for b := 0; b < nbands; b++ {
		band := make([]float64, n)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				var idx int
				switch interleave {
				case "bil":
					idx = (y*nbands+b)*width + x
				case "bip":
					idx = (y*width+x)*nbands + b
				default:
					idx = b*n + y*width + x
				}
				band[y*width+x] = decode(raw[idx*size:])
			}
		}
		r.Bands[b] = band
	}
	return r, nil
}

func enviDecoder(dtype int, order binary.ByteOrder) (int, func([]byte) float64, error) {
	switch dtype {
	case 1:
		return 1, func(b []byte) float64 { return float64(b[0]) }, nil
	case 2:
		return 2, func(b []byte) float64 { return float64(int16(order.Uint16(b))) }, nil
	case 3:
		return 4, func(b []byte) float64 { return float64(int32(order.Uint32(b))) }, nil
	case 4:
		return 4, func(b []byte) float64 { return float64(math.Float32frombits(order.Uint32(b))) }, nil
	case 5:
		return 8, func(b []byte) float64 { return math.Float64frombits(order.Uint64(b)) }, nil
	case 12:
		return 2, func(b []byte) float64 { return float64(order.Uint16(b)) }, nil
	case 13:
		return 4, func(b []byte) float64 { return float64(order.Uint32(b)) }, nil
	}
	return 0, nil, fmt.Errorf("ENVI data type %d: %w", dtype, ErrUnsupportedFormat)
}

// enviTransform converts "map info" (projection, ref x, ref y, easting,
// northing, x size, y size, ...) to a geotransform. Reference pixels are
// 1-based with (1,1) at the upper-left corner of the first cell.
func enviTransform(mapInfo string) GeoTransform {
	parts := strings.Split(mapInfo, ",")
	if len(parts) < 7 {
		return IdentityTransform
	}
	vals := make([]float64, 6)
	for i := 0; i < 6; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i+1]), 64)
		if err != nil {
			return IdentityTransform
		}
		vals[i] = v
	}
	refX, refY, east, north, px, py := vals[0], vals[1], vals[2], vals[3], vals[4], vals[5]
	return GeoTransform{
		east - (refX-1)*px, px, 0,
		north + (refY-1)*py, 0, -py,
	}
}

func readTIFF(path string) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening TIFF: %w", err)
	}
	defer func() { _ = f.Close() }()

	img, err := tiff.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding TIFF %s: %w", path, err)
	}

	r := imageToRaster(img)
	if r.Width == 0 || r.Height == 0 {
		return nil, ErrEmptyRaster
	}

	base := strings.TrimSuffix(path, filepath.Ext(path))
	for _, ext := range []string{".tfw", ".tifw", ".wld"} {
		if t, err := readWorldFile(base + ext); err == nil {
			r.Transform = t
			break
		}
	}
	if prj, err := os.ReadFile(base + ".prj"); err == nil {
		r.Projection = strings.TrimSpace(string(prj))
	}
	return r, nil
}

// imageToRaster unpacks a decoded TIFF into bands. Alpha is dropped.
func imageToRaster(img image.Image) *Raster {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var nb int
	switch img.(type) {
	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64:
		nb = 3
	default:
		nb = 1
	}
	r := NewRaster(w, h, nb, IdentityTransform, DefaultNoData)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px, py := b.Min.X+x, b.Min.Y+y
			switch im := img.(type) {
			case *image.Gray:
				r.Set(0, x, y, float64(im.GrayAt(px, py).Y))
			case *image.Gray16:
				r.Set(0, x, y, float64(im.Gray16At(px, py).Y))
			case *image.Paletted:
				r.Set(0, x, y, float64(im.ColorIndexAt(px, py)))
			case *image.NRGBA:
				c := im.NRGBAAt(px, py)
				r.Set(0, x, y, float64(c.R))
				r.Set(1, x, y, float64(c.G))
				r.Set(2, x, y, float64(c.B))
			case *image.RGBA:
				c := im.RGBAAt(px, py)
				r.Set(0, x, y, float64(c.R))
				r.Set(1, x, y, float64(c.G))
				r.Set(2, x, y, float64(c.B))
			case *image.NRGBA64:
				c := im.NRGBA64At(px, py)
				r.Set(0, x, y, float64(c.R))
				r.Set(1, x, y, float64(c.G))
				r.Set(2, x, y, float64(c.B))
			case *image.RGBA64:
				c := im.RGBA64At(px, py)
				r.Set(0, x, y, float64(c.R))
				r.Set(1, x, y, float64(c.G))
				r.Set(2, x, y, float64(c.B))
			default:
				cr, cg, cb, _ := img.At(px, py).RGBA()
				r.Set(0, x, y, float64(cr+cg+cb)/3)
			}
		}
	}
	return r
}

// readWorldFile parses the six-line ESRI world file. Its origin refers to the
// center of the upper-left cell; the geotransform origin is the cell corner.
func readWorldFile(path string) (GeoTransform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return GeoTransform{}, err
	}
	lines := strings.Fields(string(data))
	if len(lines) < 6 {
		return GeoTransform{}, fmt.Errorf("world file %s: expected 6 values, got %d", path, len(lines))
	}
	var v [6]float64
	for i := 0; i < 6; i++ {
		v[i], err = strconv.ParseFloat(lines[i], 64)
		if err != nil {
			return GeoTransform{}, fmt.Errorf("world file %s line %d: %w", path, i+1, err)
		}
	}
	a, d, b, e, c, f := v[0], v[1], v[2], v[3], v[4], v[5]
	return GeoTransform{
		c - a/2 - b/2, a, b,
		f - d/2 - e/2, d, e,
	}, nil
}

// WriteWorldFile writes the world file matching transform t
func WriteWorldFile(path string, t GeoTransform) error {
	c := t[0] + t[1]/2 + t[2]/2
	f := t[3] + t[4]/2 + t[5]/2
	content := fmt.Sprintf("%s\n%s\n%s\n%s\n%s\n%s\n",
		formatFloat(t[1]), formatFloat(t[4]), formatFloat(t[2]),
		formatFloat(t[5]), formatFloat(c), formatFloat(f))
	return os.WriteFile(path, []byte(content), 0644)
}

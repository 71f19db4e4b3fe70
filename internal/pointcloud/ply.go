package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
)

// PLY support covers the subset of the format produced by common point
// cloud tools: ascii or binary_little_endian, scalar vertex properties
// in any order, colors stored as uchar (0-255) or float (0-1). Elements
// after the vertex element (faces etc) are ignored on read; the vertex
// element must come first.

type plyFormat int

const (
	plyASCII plyFormat = iota
	plyBinaryLE
)

type plyProperty struct {
	name string
	typ  string
}

type plyHeader struct {
	format      plyFormat
	vertexCount int
	properties  []plyProperty
}

var plyTypeSize = map[string]int{
	"char": 1, "int8": 1,
	"uchar": 1, "uint8": 1,
	"short": 2, "int16": 2,
	"ushort": 2, "uint16": 2,
	"int": 4, "int32": 4,
	"uint": 4, "uint32": 4,
	"float": 4, "float32": 4,
	"double": 8, "float64": 8,
}

func isIntegerPLYType(typ string) bool {
	switch typ {
	case "float", "float32", "double", "float64":
		return false
	}
	return true
}

// ReadPLY parses a PLY point cloud from r. Coordinates map to Points,
// red/green/blue properties to Colors (rescaled to [0,1] when stored as
// integers) and nx/ny/nz to Normals. Unknown properties are skipped.
func ReadPLY(r io.Reader) (*PointCloud, error) {
	br := bufio.NewReader(r)
	header, err := readPLYHeader(br)
	if err != nil {
		return nil, err
	}

	// Column index per attribute; -1 when the property is absent.
	col := map[string]int{}
	for _, name := range []string{"x", "y", "z", "nx", "ny", "nz", "red", "green", "blue"} {
		col[name] = -1
	}
	for i, p := range header.properties {
		if _, ok := col[p.name]; ok {
			col[p.name] = i
		}
	}
	if col["x"] < 0 || col["y"] < 0 || col["z"] < 0 {
		return nil, fmt.Errorf("ply: vertex element missing x/y/z properties")
	}
	hasColor := col["red"] >= 0 && col["green"] >= 0 && col["blue"] >= 0
	hasNormal := col["nx"] >= 0 && col["ny"] >= 0 && col["nz"] >= 0

	cloud := &PointCloud{
		Points: make([]r3.Vector, 0, header.vertexCount),
	}
	if hasColor {
		cloud.Colors = make([]Color, 0, header.vertexCount)
	}
	if hasNormal {
		cloud.Normals = make([]r3.Vector, 0, header.vertexCount)
	}

	row := make([]float64, len(header.properties))
	for i := 0; i < header.vertexCount; i++ {
		var err error
		if header.format == plyASCII {
			err = readASCIIVertex(br, header.properties, row)
		} else {
			err = readBinaryVertex(br, header.properties, row)
		}
		if err != nil {
			return nil, fmt.Errorf("ply: vertex %d: %w", i, err)
		}

		cloud.Points = append(cloud.Points, r3.Vector{
			X: row[col["x"]], Y: row[col["y"]], Z: row[col["z"]],
		})
		if hasColor {
			c := Color{row[col["red"]], row[col["green"]], row[col["blue"]]}
			if isIntegerPLYType(header.properties[col["red"]].typ) {
				c[0] /= 255.0
				c[1] /= 255.0
				c[2] /= 255.0
			}
			cloud.Colors = append(cloud.Colors, c)
		}
		if hasNormal {
			cloud.Normals = append(cloud.Normals, r3.Vector{
				X: row[col["nx"]], Y: row[col["ny"]], Z: row[col["nz"]],
			})
		}
	}
	return cloud, nil
}

func readPLYHeader(br *bufio.Reader) (*plyHeader, error) {
	line, err := readHeaderLine(br)
	if err != nil {
		return nil, err
	}
	if line != "ply" {
		return nil, fmt.Errorf("ply: missing magic, got %q", line)
	}

	header := &plyHeader{vertexCount: -1}
	inVertex := false
	sawLaterElement := false
	for {
		line, err := readHeaderLine(br)
		if err != nil {
			return nil, err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "comment", "obj_info":
			// ignored
		case "format":
			if len(fields) < 2 {
				return nil, fmt.Errorf("ply: malformed format line %q", line)
			}
			switch fields[1] {
			case "ascii":
				header.format = plyASCII
			case "binary_little_endian":
				header.format = plyBinaryLE
			default:
				return nil, fmt.Errorf("ply: unsupported format %q", fields[1])
			}
		case "element":
			if len(fields) != 3 {
				return nil, fmt.Errorf("ply: malformed element line %q", line)
			}
			if fields[1] == "vertex" {
				if sawLaterElement {
					return nil, fmt.Errorf("ply: vertex element must precede other elements")
				}
				n, err := strconv.Atoi(fields[2])
				if err != nil || n < 0 {
					return nil, fmt.Errorf("ply: bad vertex count %q", fields[2])
				}
				header.vertexCount = n
				inVertex = true
			} else {
				inVertex = false
				sawLaterElement = true
			}
		case "property":
			if !inVertex {
				continue
			}
			if len(fields) >= 2 && fields[1] == "list" {
				return nil, fmt.Errorf("ply: list property on vertex element not supported")
			}
			if len(fields) != 3 {
				return nil, fmt.Errorf("ply: malformed property line %q", line)
			}
			if _, ok := plyTypeSize[fields[1]]; !ok {
				return nil, fmt.Errorf("ply: unknown property type %q", fields[1])
			}
			header.properties = append(header.properties, plyProperty{name: fields[2], typ: fields[1]})
		case "end_header":
			if header.vertexCount < 0 {
				return nil, fmt.Errorf("ply: no vertex element in header")
			}
			if len(header.properties) == 0 {
				return nil, fmt.Errorf("ply: vertex element has no properties")
			}
			return header, nil
		default:
			return nil, fmt.Errorf("ply: unexpected header line %q", line)
		}
	}
}

func readHeaderLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return "", fmt.Errorf("ply: truncated header")
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func readASCIIVertex(br *bufio.Reader, props []plyProperty, row []float64) error {
	line, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return err
	}
	fields := strings.Fields(line)
	if len(fields) < len(props) {
		return fmt.Errorf("expected %d values, got %d", len(props), len(fields))
	}
	for i := range props {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return fmt.Errorf("bad value %q: %v", fields[i], err)
		}
		row[i] = v
	}
	return nil
}

func readBinaryVertex(br *bufio.Reader, props []plyProperty, row []float64) error {
	var buf [8]byte
	for i, p := range props {
		size := plyTypeSize[p.typ]
		if _, err := io.ReadFull(br, buf[:size]); err != nil {
			return err
		}
		switch p.typ {
		case "char", "int8":
			row[i] = float64(int8(buf[0]))
		case "uchar", "uint8":
			row[i] = float64(buf[0])
		case "short", "int16":
			row[i] = float64(int16(binary.LittleEndian.Uint16(buf[:2])))
		case "ushort", "uint16":
			row[i] = float64(binary.LittleEndian.Uint16(buf[:2]))
		case "int", "int32":
			row[i] = float64(int32(binary.LittleEndian.Uint32(buf[:4])))
		case "uint", "uint32":
			row[i] = float64(binary.LittleEndian.Uint32(buf[:4]))
		case "float", "float32":
			row[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[:4])))
		case "double", "float64":
			row[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[:8]))
		}
	}
	return nil
}

// WritePLY writes the cloud to w as binary_little_endian PLY with
// float32 coordinates and normals and uchar colors.
func WritePLY(w io.Writer, cloud *PointCloud) error {
	if err := cloud.Validate(); err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ply\n")
	fmt.Fprintf(bw, "format binary_little_endian 1.0\n")
	fmt.Fprintf(bw, "comment generated by prism\n")
	fmt.Fprintf(bw, "element vertex %d\n", cloud.Len())
	fmt.Fprintf(bw, "property float x\nproperty float y\nproperty float z\n")
	if cloud.HasNormals() {
		fmt.Fprintf(bw, "property float nx\nproperty float ny\nproperty float nz\n")
	}
	if cloud.HasColors() {
		fmt.Fprintf(bw, "property uchar red\nproperty uchar green\nproperty uchar blue\n")
	}
	fmt.Fprintf(bw, "end_header\n")

	var buf [4]byte
	writeF32 := func(v float64) {
		binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(float32(v)))
		bw.Write(buf[:4])
	}
	for i := range cloud.Points {
		p := cloud.Points[i]
		writeF32(p.X)
		writeF32(p.Y)
		writeF32(p.Z)
		if cloud.HasNormals() {
			n := cloud.Normals[i]
			writeF32(n.X)
			writeF32(n.Y)
			writeF32(n.Z)
		}
		if cloud.HasColors() {
			c := cloud.Colors[i]
			bw.Write([]byte{colorByte(c[0]), colorByte(c[1]), colorByte(c[2])})
		}
	}
	return bw.Flush()
}

// colorByte maps a [0,1] color component to a 0-255 byte, clamping out
// of range values.
func colorByte(v float64) byte {
	scaled := math.Round(v * 255.0)
	if scaled < 0 {
		return 0
	}
	if scaled > 255 {
		return 255
	}
	return byte(scaled)
}

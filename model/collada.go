// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package model

import (
	"encoding/xml"
	"strconv"
	"strings"

	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
)

// Collada is the top-level Collada object
type Collada struct {
	Geometries []Geometry `xml:"library_geometries>geometry"`
}

// Geometry represents Collada's geometry
type Geometry struct {
	Mesh ColladaMesh `xml:"mesh"`
	ID   string      `xml:"id,attr"`
	Name string      `xml:"name,attr"`
}

// ColladaMesh contains all the primitive data
type ColladaMesh struct {
	Source    []Source    `xml:"source"`
	Vertices  Vertices    `xml:"vertices"`
	Triangles []Triangles `xml:"triangles"`
}

// Source holds the raw data inputs refer to
type Source struct {
	ID     string `xml:"id,attr"`
	Floats Floats `xml:"float_array"`
}

// Floats is the array of floats
type Floats struct {
	ID   string
	Data []float32
}

// UnmarshalXML unmarshals the array of floats
func (f *Floats) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		if attr.Name.Local == "id" {
			f.ID = attr.Value
		}
	}
	var raw string
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}
	for _, r := range strings.Fields(raw) {
		num, err := strconv.ParseFloat(r, 32)
		if err != nil {
			return err
		}
		f.Data = append(f.Data, float32(num))
	}
	return nil
}

// Vertices contains the list of vertices
type Vertices struct {
	ID     string  `xml:"id,attr"`
	Inputs []Input `xml:"input"`
}

// Triangles contain the list of triangles
type Triangles struct {
	Count    int     `xml:"count,attr"`
	Material string  `xml:"material,attr"`
	Inputs   []Input `xml:"input"`
	Index    []int
}

// UnmarshalXML parses the index list
func (t *Triangles) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "count":
			num, err := strconv.Atoi(attr.Value)
			if err != nil {
				return err
			}
			t.Count = num
		case "material":
			t.Material = attr.Value
		}
	}

	for {
		token, err := d.Token()
		if err != nil {
			return err
		}

		switch el := token.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "input":
				var input Input
				if err := d.DecodeElement(&input, &el); err != nil {
					return err
				}
				t.Inputs = append(t.Inputs, input)
			case "p":
				var raw string
				if err := d.DecodeElement(&raw, &el); err != nil {
					return err
				}
				for _, r := range strings.Fields(raw) {
					num, err := strconv.Atoi(r)
					if err != nil {
						return err
					}
					t.Index = append(t.Index, num)
				}
			default:
				if err := d.Skip(); err != nil {
					return err
				}
			}
		case xml.EndElement:
			if el == start.End() {
				return nil
			}
		}
	}
}

// stride is the number of indices per vertex
func (t *Triangles) stride() int {
	stride := 1
	for _, in := range t.Inputs {
		if int(in.Offset)+1 > stride {
			stride = int(in.Offset) + 1
		}
	}
	return stride
}

// Input is Collada's input type
type Input struct {
	Semantic string `xml:"semantic,attr"`
	Source   string `xml:"source,attr"`
	Offset   uint   `xml:"offset,attr"`
}

func findInput(inputs []Input, semantic string) (Input, bool) {
	for _, in := range inputs {
		if in.Semantic == semantic {
			return in, true
		}
	}
	return Input{}, false
}

func findSource(sources []Source, ref string) (Source, bool) {
	id := strings.TrimPrefix(ref, "#")
	for _, s := range sources {
		if s.ID == id {
			return s, true
		}
	}
	return Source{}, false
}

// ImportCollada reads every geometry of a Collada (.dae) document
// into a Mesh. Only triangulated geometry is supported.
func ImportCollada(fileContents []byte) ([]*Mesh, error) {
	var doc Collada
	if err := xml.Unmarshal(fileContents, &doc); err != nil {
		return nil, err
	}
	if len(doc.Geometries) == 0 {
		return nil, errors.New("collada: no geometry")
	}

	var meshes []*Mesh
	for _, g := range doc.Geometries {
		m, err := importGeometry(g)
		if err != nil {
			return nil, errors.Wrapf(err, "collada: geometry %q", g.ID)
		}
		meshes = append(meshes, m)
	}
	return meshes, nil
}

func importGeometry(g Geometry) (*Mesh, error) {
	position, ok := findInput(g.Mesh.Vertices.Inputs, "POSITION")
	if !ok {
		return nil, errors.New("vertices have no POSITION input")
	}
	source, ok := findSource(g.Mesh.Source, position.Source)
	if !ok {
		return nil, errors.Errorf("source %s not found", position.Source)
	}
	positions := source.Floats.Data

	mesh := &Mesh{Name: g.Name}
	for _, tris := range g.Mesh.Triangles {
		vertex, ok := findInput(tris.Inputs, "VERTEX")
		if !ok {
			return nil, errors.New("triangles have no VERTEX input")
		}
		stride := tris.stride()
		if len(tris.Index)%(stride*3) != 0 {
			return nil, errors.Errorf("%d indices do not make whole triangles", len(tris.Index))
		}
		for i := int(vertex.Offset); i < len(tris.Index); i += stride {
			idx := tris.Index[i]
			if idx < 0 || idx*3+2 >= len(positions) {
				return nil, errors.Errorf("vertex index %d out of range", idx)
			}
			mesh.Positions = append(mesh.Positions, glm.Vec3{
				positions[idx*3],
				positions[idx*3+1],
				positions[idx*3+2],
			})
		}
	}
	return mesh, nil
}

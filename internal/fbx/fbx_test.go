package fbx

import (
	"errors"
	"math"
	"testing"

	"github.com/flywave/go3d/vec3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flywave/meshview/internal/fbx/fbxtest"
	"github.com/flywave/meshview/internal/scene"
)

func TestParseRecords(t *testing.T) {
	for _, version := range []uint32{7400, 7500} {
		for _, compress := range []bool{false, true} {
			enc := &fbxtest.Encoder{Version: version, Compress: compress}
			data, err := enc.Encode(
				fbxtest.N("Root", int16(-2), true, int32(7), float32(1.5), 2.5, int64(1)<<40, "name", []byte{1, 2}).With(
					fbxtest.N("Floats", []float32{1, 2}),
					fbxtest.N("Doubles", []float64{3, 4, 5}),
					fbxtest.N("Longs", []int64{-1}),
					fbxtest.N("Ints", []int32{9, -9}),
					fbxtest.N("Bools", []bool{true, false}),
				),
				fbxtest.N("Empty"),
			)
			require.NoError(t, err)

			doc, err := Parse(data)
			require.NoError(t, err, "version %d compress %v", version, compress)
			assert.Equal(t, version, doc.Version)
			require.Len(t, doc.Nodes, 2)

			root := doc.Child("Root")
			require.NotNil(t, root)
			assert.Equal(t, []interface{}{int16(-2), true, int32(7), float32(1.5), 2.5, int64(1) << 40, "name", []byte{1, 2}}, root.Props)
			assert.Equal(t, []float64{1, 2}, root.Child("Floats").Float64s())
			assert.Equal(t, []float64{3, 4, 5}, root.Child("Doubles").Float64s())
			assert.Equal(t, []int{-1}, root.Child("Longs").Ints())
			assert.Equal(t, []int{9, -9}, root.Child("Ints").Ints())
			assert.Equal(t, []bool{true, false}, root.Child("Bools").Props[0])
			assert.Empty(t, doc.Child("Empty").Children)
		}
	}
}

func TestParseRejectsNonBinary(t *testing.T) {
	_, err := Parse([]byte("; FBX 7.4.0 project file\nFBXHeaderExtension:  {\n}"))
	assert.ErrorIs(t, err, ErrNotBinary)

	data := fbxtest.Triangle(7400, false)
	_, err = Parse(data[:len(data)/2])
	assert.Error(t, err)
}

func TestDecodeTriangle(t *testing.T) {
	for _, version := range []uint32{7400, 7500} {
		root, clips, err := Decode(fbxtest.Triangle(version, true), scene.NewCache())
		require.NoError(t, err)
		require.Len(t, root.Children, 1)

		tri := root.Children[0]
		assert.Equal(t, "Tri", tri.Name)
		assert.True(t, tri.IsMesh())
		assert.Equal(t, vec3.T{1, 2, 3}, tri.Position)
		assert.Equal(t, vec3.T{2, 2, 2}, tri.Scale)
		assert.Equal(t, "meshview", tri.Props["author"].Value)

		geo := tri.Geometry
		assert.Equal(t, 1, geo.TriangleCount())
		assert.Equal(t, vec3.T{0, 0, 1}, geo.Normals[0])
		assert.Empty(t, geo.Groups)

		require.Len(t, tri.Materials, 1)
		m := tri.Materials[0]
		assert.Equal(t, "Red", m.Name)
		assert.Equal(t, scene.MaterialPhong, m.Kind)
		assert.Equal(t, "#ff0000", m.ColorHex())
		assert.Equal(t, float32(50), m.Shininess)

		require.Len(t, clips, 1)
		assert.Equal(t, "Take 001", clips[0].Name)
		assert.InDelta(t, 2.0, clips[0].Duration, 1e-9)
		assert.Equal(t, 1, clips[0].Tracks)
	}
}

func TestDecodeQuadWithMaterialGroups(t *testing.T) {
	N, P := fbxtest.N, fbxtest.P
	enc := &fbxtest.Encoder{Version: 7400}
	data, err := enc.Encode(
		N("Objects").With(
			N("Geometry", int64(2), fbxtest.ObjectName("Quad", "Geometry"), "Mesh").With(
				N("Vertices", []float64{0, 0, 0, 1, 0, 0, 1, 1, 0, 0, 1, 0, 2, 0, 0}),
				// 一个四边形与一个三角形
				N("PolygonVertexIndex", []int32{0, 1, 2, ^int32(3), 1, 4, ^int32(2)}),
				N("LayerElementUV", int32(0)).With(
					N("MappingInformationType", "ByVertice"),
					N("ReferenceInformationType", "Direct"),
					N("UV", []float64{0, 0, 1, 0, 1, 1, 0, 1, 2, 0}),
				),
				N("LayerElementMaterial", int32(0)).With(
					N("MappingInformationType", "ByPolygon"),
					N("ReferenceInformationType", "IndexToDirect"),
					N("Materials", []int32{1, 0}),
				),
			),
			N("Model", int64(1), fbxtest.ObjectName("Quad", "Model"), "Mesh").With(
				fbxtest.Props70(P("Lcl Rotation", "Lcl Rotation", "", "A", 0.0, 0.0, 90.0)),
			),
			N("Model", int64(5), fbxtest.ObjectName("Holder", "Model"), "Null"),
			N("Material", int64(3), fbxtest.ObjectName("A", "Material"), "").With(N("ShadingModel", "lambert")),
			N("Material", int64(4), fbxtest.ObjectName("B", "Material"), "").With(
				fbxtest.Props70(P("Opacity", "double", "Number", "", 0.25)),
			),
		),
		N("Connections").With(
			N("C", "OO", int64(5), int64(0)),
			N("C", "OO", int64(1), int64(5)),
			N("C", "OO", int64(2), int64(1)),
			N("C", "OO", int64(3), int64(1)),
			N("C", "OO", int64(4), int64(1)),
		),
	)
	require.NoError(t, err)

	root, clips, err := Decode(data, nil)
	require.NoError(t, err)
	assert.Empty(t, clips)

	require.Len(t, root.Children, 1)
	holder := root.Children[0]
	assert.Equal(t, "Holder", holder.Name)
	assert.False(t, holder.IsMesh())
	require.Len(t, holder.Children, 1)

	quad := holder.Children[0]
	require.Len(t, quad.Materials, 2)
	assert.Equal(t, scene.MaterialLambert, quad.Materials[0].Kind)
	assert.True(t, quad.Materials[1].Transparent)
	assert.Equal(t, float32(0.25), quad.Materials[1].Opacity)

	geo := quad.Geometry
	assert.Equal(t, 3, geo.TriangleCount())
	assert.Equal(t, []scene.Group{{Start: 0, Count: 3, MaterialIndex: 0}, {Start: 3, Count: 6, MaterialIndex: 1}}, geo.Groups)
	assert.Len(t, geo.UVs, 9)
	assert.Len(t, geo.Normals, 9)

	// 绕 z 轴 90 度：x 轴变到 y 轴
	p := quad.LocalToParent(vec3.T{1, 0, 0})
	assert.InDelta(t, 0, p[0], 1e-5)
	assert.InDelta(t, 1, p[1], 1e-5)
}

func TestEulerXYZOrder(t *testing.T) {
	// 先绕 x 转 90 度再绕 z 转 90 度：y 轴 -> z 轴 -> z 轴
	q := eulerXYZ(vec3.T{90, 0, 90})
	v := vec3.T{0, 1, 0}
	r := scene.RotateVec3(q, v)
	assert.InDelta(t, 0, r[0], 1e-5)
	assert.InDelta(t, 0, r[1], 1e-5)
	assert.InDelta(t, 1, r[2], 1e-5)

	v = vec3.T{1, 0, 0}
	r = scene.RotateVec3(q, v)
	assert.InDelta(t, 0, r[0], 1e-5)
	assert.InDelta(t, 1, r[1], 1e-5)
	assert.InDelta(t, 0, math.Abs(float64(r[2])), 1e-5)
}

func TestObjectName(t *testing.T) {
	assert.Equal(t, "Cube", objectName("Cube\x00\x01Model"))
	assert.Equal(t, "Cube", objectName("Model::Cube"))
	assert.Equal(t, "Cube", objectName("Cube"))
}

func TestDecodeNoObjects(t *testing.T) {
	data, err := (&fbxtest.Encoder{Version: 7400}).Encode(fbxtest.N("FBXHeaderExtension"))
	require.NoError(t, err)
	_, _, err = Decode(data, nil)
	assert.True(t, errors.Is(err, ErrNoObjects))
}

package handlers

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
)

const (
	glbMagic     = 0x46546C67 // "glTF"
	glbVersion   = 2
	glbChunkJSON = 0x4E4F534A // "JSON"
)

// BuildGLB returns a minimal binary glTF 2.0 container whose JSON chunk
// names the source image. It has no meshes; it only needs to be a valid
// file for viewers and for byte-level assertions in tests.
func BuildGLB(source string, image []byte) []byte {
	doc := map[string]any{
		"asset": map[string]string{"version": "2.0", "generator": "meshport mock"},
		"extras": map[string]any{
			"source":       source,
			"source_bytes": len(image),
		},
	}
	js, _ := json.Marshal(doc)
	for len(js)%4 != 0 {
		js = append(js, ' ')
	}

	total := 12 + 8 + len(js)
	var buf bytes.Buffer
	buf.Grow(total)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(glbMagic))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(glbVersion))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(total))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(js)))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(glbChunkJSON))
	buf.Write(js)
	return buf.Bytes()
}

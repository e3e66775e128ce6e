package graphapi

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeChunk(buf *bytes.Buffer, kind string, data []byte) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(data)))
	buf.WriteString(kind)
	buf.Write(data)
	crc := crc32.NewIEEE()
	crc.Write([]byte(kind))
	crc.Write(data)
	_ = binary.Write(buf, binary.BigEndian, crc.Sum32())
}

func pngWithText(pairs map[string]string) []byte {
	buf := &bytes.Buffer{}
	buf.Write(pngSignature)
	writeChunk(buf, "IHDR", make([]byte, 13))
	for k, v := range pairs {
		writeChunk(buf, "tEXt", append(append([]byte(k), 0), []byte(v)...))
	}
	writeChunk(buf, "IEND", nil)
	return buf.Bytes()
}

func TestGetPngMetadata(t *testing.T) {
	data := pngWithText(map[string]string{"prompt": `{"a":1}`, "workflow": "{}"})
	meta, err := GetPngMetadata(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, meta["prompt"])
	assert.Equal(t, "{}", meta["workflow"])
}

func TestGetPngMetadataRejectsNonPNG(t *testing.T) {
	_, err := GetPngMetadata(bytes.NewReader([]byte("GIF89a..........")))
	assert.EqualError(t, err, "not a valid PNG file")
}

func TestGetPngMetadataRejectsOversizedText(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.Write(pngSignature)
	writeChunk(buf, "IHDR", make([]byte, 13))
	_ = binary.Write(buf, binary.BigEndian, uint32(0xFFFFFFF0))
	buf.WriteString("tEXt")
	buf.WriteString("prompt")

	_, err := GetPngMetadata(bytes.NewReader(buf.Bytes()))
	assert.ErrorContains(t, err, "exceeds")

	_, err = FindPngText(bytes.NewReader(buf.Bytes()), "prompt")
	assert.ErrorContains(t, err, "exceeds")
}

func TestFindPngText(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.Write(pngSignature)
	writeChunk(buf, "IHDR", make([]byte, 13))
	writeChunk(buf, "IDAT", []byte{1, 2, 3, 4})
	writeChunk(buf, "tEXt", []byte("workflow\x00{}"))
	writeChunk(buf, "tEXt", []byte("prompt\x00{\"a\":1}"))
	// truncated after the chunk being looked up
	buf.Write([]byte{0, 0, 0})

	text, err := FindPngText(bytes.NewReader(buf.Bytes()), "prompt")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, text)

	_, err = GetPngMetadata(bytes.NewReader(buf.Bytes()))
	assert.Error(t, err)

	_, err = FindPngText(bytes.NewReader(pngWithText(map[string]string{"workflow": "{}"})), "prompt")
	assert.ErrorIs(t, err, errPngTextNotFound)
}

func TestLoadTemplateFile(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "workflow.json")
	require.NoError(t, os.WriteFile(jsonPath, defaultWorkflowJSON, 0o644))
	fromJSON, err := LoadTemplateFile(jsonPath)
	require.NoError(t, err)

	pngPath := filepath.Join(dir, "ComfyUI_00001_.PNG")
	require.NoError(t, os.WriteFile(pngPath, pngWithText(map[string]string{"prompt": string(defaultWorkflowJSON)}), 0o644))
	fromPNG, err := LoadTemplateFile(pngPath)
	require.NoError(t, err)

	assert.Equal(t, fromJSON, fromPNG)

	emptyPath := filepath.Join(dir, "empty.png")
	require.NoError(t, os.WriteFile(emptyPath, pngWithText(nil), 0o644))
	_, err = LoadTemplateFile(emptyPath)
	assert.ErrorContains(t, err, "png does not contain prompt metadata")

	_, err = LoadTemplateFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

package graphapi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var pngSignature = []byte{137, 80, 78, 71, 13, 10, 26, 10}

// maxTextChunk bounds a single tEXt chunk. Engine-written workflows are far smaller.
const maxTextChunk = 8 << 20

var errPngTextNotFound = errors.New("png text chunk not found")

// pngTextReader walks the chunks of a PNG stream, decoding tEXt chunks and
// skipping everything else without buffering it
type pngTextReader struct {
	r    io.Reader
	done bool
}

func newPngTextReader(r io.Reader) (*pngTextReader, error) {
	header := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if !bytes.Equal(header, pngSignature) {
		return nil, errors.New("not a valid PNG file")
	}
	return &pngTextReader{r: r}, nil
}

// next returns the next tEXt keyword and text. io.EOF marks the end of the image.
func (p *pngTextReader) next() (string, string, error) {
	for !p.done {
		var hdr [8]byte
		if _, err := io.ReadFull(p.r, hdr[:]); err != nil {
			if err == io.EOF {
				p.done = true
				break
			}
			return "", "", err
		}
		length := binary.BigEndian.Uint32(hdr[:4])
		kind := string(hdr[4:])

		switch kind {
		case "tEXt":
			if length > maxTextChunk {
				return "", "", fmt.Errorf("tEXt chunk of %d bytes exceeds %d", length, maxTextChunk)
			}
			body := make([]byte, length)
			if _, err := io.ReadFull(p.r, body); err != nil {
				return "", "", err
			}
			if err := p.skip(4); err != nil {
				return "", "", err
			}
			sep := bytes.IndexByte(body, 0)
			if sep == -1 {
				return "", "", errors.New("malformed tEXt chunk")
			}
			return string(body[:sep]), string(body[sep+1:]), nil
		case "IEND":
			p.done = true
		default:
			if err := p.skip(int64(length) + 4); err != nil {
				return "", "", err
			}
		}
	}
	return "", "", io.EOF
}

func (p *pngTextReader) skip(n int64) error {
	_, err := io.CopyN(io.Discard, p.r, n)
	return err
}

// GetPngMetadata returns the keyword/text pairs of every tEXt chunk in a PNG.
// Images saved by ComfyUI carry the API-format workflow under "prompt" and
// the editor graph under "workflow".
func GetPngMetadata(r io.Reader) (map[string]string, error) {
	pr, err := newPngTextReader(r)
	if err != nil {
		return nil, err
	}

	txtChunks := make(map[string]string)
	for {
		keyword, text, err := pr.next()
		if err == io.EOF {
			return txtChunks, nil
		}
		if err != nil {
			return nil, err
		}
		txtChunks[keyword] = text
	}
}

// FindPngText returns the text of the first tEXt chunk named keyword and
// stops reading there
func FindPngText(r io.Reader, keyword string) (string, error) {
	pr, err := newPngTextReader(r)
	if err != nil {
		return "", err
	}

	for {
		k, text, err := pr.next()
		if err == io.EOF {
			return "", fmt.Errorf("%w: %q", errPngTextNotFound, keyword)
		}
		if err != nil {
			return "", err
		}
		if k == keyword {
			return text, nil
		}
	}
}

// NewWorkflowFromPNGReader extracts the API-format workflow from PNG data
func NewWorkflowFromPNGReader(r io.Reader) (Workflow, error) {
	prompt, err := FindPngText(r, "prompt")
	if errors.Is(err, errPngTextNotFound) {
		return nil, errors.New("png does not contain prompt metadata")
	}
	if err != nil {
		return nil, err
	}
	return ParseWorkflow([]byte(prompt))
}

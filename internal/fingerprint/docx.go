package fingerprint

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

const docxBody = "word/document.xml"

// maxDocxBody caps the decompressed document body.
const maxDocxBody = 32 << 20

// DocxText returns the paragraph text of a .docx file, one paragraph per line.
func DocxText(data []byte) (string, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", eris.Wrap(err, "docx: open archive")
	}

	for _, f := range r.File {
		if f.Name != docxBody {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", eris.Wrap(err, "docx: open body")
		}
		defer rc.Close() //nolint:errcheck
		return paragraphs(io.LimitReader(rc, maxDocxBody))
	}
	return "", eris.Errorf("docx: %s not found in archive", docxBody)
}

func isDocx(data []byte) bool {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, f := range r.File {
		if f.Name == docxBody {
			return true
		}
	}
	return false
}

// paragraphs walks WordprocessingML keeping <w:t> text, with <w:tab> as a
// tab and each <w:p> on its own line.
func paragraphs(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		sb     strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", eris.Wrap(err, "docx: parse body")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

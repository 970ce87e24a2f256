package loaders

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/unidoc/unioffice/v2/document"

	"ragcompare/backend/go/internal/apperr"
	"ragcompare/backend/go/internal/rag_service/rag/interfaces"
	"ragcompare/backend/go/internal/rag_service/rag/schema"
)

// DocxLoader 实现了用于读取 Word (.docx) 文件的 Loader 接口。
type DocxLoader struct{}

// NewDocxLoader 创建一个新的 DocxLoader。
func NewDocxLoader() *DocxLoader {
	return &DocxLoader{}
}

// Load 读取一个 .docx 文件，段落之间以换行连接，整个文档作为一页返回。
// unioffice 无法打开时 (例如未配置许可证)，直接解析 word/document.xml。
func (l *DocxLoader) Load(ctx context.Context, doc *schema.Document) ([]schema.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, err := readWithUnioffice(doc.Data)
	if err != nil {
		text, err = readDocumentXML(doc.Data)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInput, err, "open Word document")
		}
	}
	return []schema.Page{{Number: 1, Text: text}}, nil
}

func readWithUnioffice(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("unioffice: malformed document")
		}
	}()
	doc, err := document.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	// 提取所有段落的文本内容
	var textBuilder strings.Builder
	writeParagraphs := func(paragraphs []document.Paragraph) {
		for _, p := range paragraphs {
			for _, r := range p.Runs() {
				textBuilder.WriteString(r.Text())
			}
			textBuilder.WriteString("\n")
		}
	}
	writeParagraphs(doc.Paragraphs())
	for _, t := range doc.Tables() {
		for _, row := range t.Rows() {
			for _, cell := range row.Cells() {
				writeParagraphs(cell.Paragraphs())
			}
		}
	}
	return textBuilder.String(), nil
}

// readDocumentXML 从 word/document.xml 中按顺序收集 <w:t> 文本。
func readDocumentXML(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	var part *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			part = f
			break
		}
	}
	if part == nil {
		return "", errors.New("word/document.xml not found")
	}
	rc, err := part.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var (
		textBuilder strings.Builder
		inText      bool
	)
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				textBuilder.WriteString("\t")
			case "br":
				textBuilder.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				textBuilder.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				textBuilder.Write(t)
			}
		}
	}
	return textBuilder.String(), nil
}

// 编译时检查，确保 DocxLoader 实现了 Loader 接口
var _ interfaces.Loader = (*DocxLoader)(nil)

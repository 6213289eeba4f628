// Package pdfutil 提供了 PDF 解析功能：页数统计与逐页文本提取。
package pdfutil

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dslipak/pdf"
)

// Document 是一个已解析的 PDF 文档。
type Document struct {
	reader *pdf.Reader
}

// Open 从内存中的原始字节解析 PDF。
func Open(data []byte) (*Document, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("解析 PDF 失败: %w", err)
	}
	return &Document{reader: r}, nil
}

// PageCount 返回文档总页数。
func (d *Document) PageCount() int {
	return d.reader.NumPage()
}

// PageText 提取指定页（从 1 开始）的纯文本。
// 个别页面提取失败不应中断整个管道，调用方可选择跳过。
func (d *Document) PageText(pageNum int) (string, error) {
	page := d.reader.Page(pageNum)
	if page.V.IsNull() {
		return "", fmt.Errorf("页 %d 不存在", pageNum)
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("提取第 %d 页文本失败: %w", pageNum, err)
	}
	return strings.TrimSpace(text), nil
}

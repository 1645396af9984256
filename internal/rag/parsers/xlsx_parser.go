package parsers

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXParser Excel 工作簿
type XLSXParser struct{}

// NewXLSXParser 创建 XLSX 解析器
func NewXLSXParser() *XLSXParser { return &XLSXParser{} }

// SourceTypes 支持的类型
func (p *XLSXParser) SourceTypes() []string { return []string{"xlsx"} }

// Parse 每个工作表以 "# Sheet: <name>" 开头，跳过全空行
func (p *XLSXParser) Parse(_ context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("打开工作簿失败: %w", err)
	}
	defer f.Close()

	var lines []string
	for _, sheet := range f.GetSheetList() {
		lines = append(lines, "# Sheet: "+sheet)
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("读取工作表 %s 失败: %w", sheet, err)
		}
		for _, row := range rows {
			if !hasContent(row) {
				continue
			}
			lines = append(lines, strings.Join(row, "\t"))
		}
	}
	return strings.Join(lines, "\n"), nil
}

func hasContent(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

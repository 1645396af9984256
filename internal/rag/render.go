package rag

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"legalai/internal/imageutil"
)

// RenderedPage 渲染输出的一页
type RenderedPage struct {
	PageNumber int
	Path       string
	Width      int
	Height     int
}

// PageRenderer 把知识源渲染为页面图像
type PageRenderer interface {
	Render(ctx context.Context, src *KnowledgeSource) ([]RenderedPage, error)
}

// RenderOptions 页面渲染参数
type RenderOptions struct {
	StorageBase  string
	MaxPages     int
	MaxImageSide int
	DPI          int
	PdftoppmPath string
}

// PopplerRenderer PDF 经 pdftoppm 渲染，单张图片直接归一化为 PNG
type PopplerRenderer struct {
	opts RenderOptions
}

// NewPopplerRenderer 创建页面渲染器
func NewPopplerRenderer(opts RenderOptions) *PopplerRenderer {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 80
	}
	if opts.MaxImageSide <= 0 {
		opts.MaxImageSide = 1600
	}
	if opts.DPI <= 0 {
		opts.DPI = 150
	}
	if opts.PdftoppmPath == "" {
		opts.PdftoppmPath = "pdftoppm"
	}
	return &PopplerRenderer{opts: opts}
}

// PageDir 页面图像目录
func PageDir(storageBase, sourceID string) string {
	return filepath.Join(storageBase, "knowledge_pages", "source_"+sourceID)
}

// Render 渲染页面；非 PDF/图片类型返回空
func (r *PopplerRenderer) Render(ctx context.Context, src *KnowledgeSource) ([]RenderedPage, error) {
	if src.FilePath == "" {
		return nil, nil
	}
	if src.SourceType != SourcePDF && !src.SourceType.IsImage() {
		return nil, nil
	}

	outDir := PageDir(r.opts.StorageBase, src.ID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建页面目录失败: %w", err)
	}

	if src.SourceType.IsImage() {
		out := filepath.Join(outDir, "page_1.png")
		w, h, err := imageutil.NormalizeToPNG(src.FilePath, out, r.opts.MaxImageSide)
		if err != nil {
			return nil, err
		}
		return []RenderedPage{{PageNumber: 1, Path: out, Width: w, Height: h}}, nil
	}
	return r.renderPDF(ctx, src.FilePath, outDir)
}

var rawPagePattern = regexp.MustCompile(`^raw-0*(\d+)\.png$`)

func (r *PopplerRenderer) renderPDF(ctx context.Context, pdfPath, outDir string) ([]RenderedPage, error) {
	prefix := filepath.Join(outDir, "raw")
	cmd := exec.CommandContext(ctx, r.opts.PdftoppmPath,
		"-png",
		"-r", strconv.Itoa(r.opts.DPI),
		"-f", "1",
		"-l", strconv.Itoa(r.opts.MaxPages),
		pdfPath, prefix,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm 渲染失败: %w: %s", err, truncateRunes(string(out), 300))
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, err
	}

	type raw struct {
		n    int
		path string
	}
	raws := make([]raw, 0, len(entries))
	for _, e := range entries {
		m := rawPagePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		raws = append(raws, raw{n: n, path: filepath.Join(outDir, e.Name())})
	}
	sort.Slice(raws, func(i, j int) bool { return raws[i].n < raws[j].n })

	pages := make([]RenderedPage, 0, len(raws))
	for _, rp := range raws {
		if rp.n > r.opts.MaxPages {
			break
		}
		out := filepath.Join(outDir, fmt.Sprintf("page_%d.png", rp.n))
		w, h, err := imageutil.NormalizeToPNG(rp.path, out, r.opts.MaxImageSide)
		_ = os.Remove(rp.path)
		if err != nil {
			return nil, err
		}
		pages = append(pages, RenderedPage{PageNumber: rp.n, Path: out, Width: w, Height: h})
	}
	return pages, nil
}

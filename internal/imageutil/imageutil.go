// Package imageutil 页面图像缩放与编码
package imageutil

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"

	"golang.org/x/image/draw"
)

// Resize 等比缩放到最长边不超过 maxSide；maxSide <= 0 或已满足时原样返回
func Resize(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide <= 0 || max(w, h) <= maxSide {
		return img
	}
	scale := float64(maxSide) / float64(max(w, h))
	nw, nh := max(int(float64(w)*scale), 1), max(int(float64(h)*scale), 1)

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// DecodeFile 读取 png/jpeg 图像
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("解码图像失败: %w", err)
	}
	return img, nil
}

// SavePNG 写出 PNG，返回宽高
func SavePNG(img image.Image, path string) (width, height int, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(f, img); err != nil {
		return 0, 0, fmt.Errorf("写入 PNG 失败: %w", err)
	}
	b := img.Bounds()
	return b.Dx(), b.Dy(), nil
}

// NormalizeToPNG 读取图像，缩放后保存为 PNG
func NormalizeToPNG(src, dst string, maxSide int) (width, height int, err error) {
	img, err := DecodeFile(src)
	if err != nil {
		return 0, 0, err
	}
	return SavePNG(Resize(img, maxSide), dst)
}

// DataURL 缩放图像并编码为 JPEG data URL
func DataURL(path string, maxSide, quality int) (string, error) {
	img, err := DecodeFile(path)
	if err != nil {
		return "", err
	}
	if quality <= 0 || quality > 100 {
		quality = 85
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Resize(img, maxSide), &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("编码 JPEG 失败: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

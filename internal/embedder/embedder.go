package embedder

import (
	"math"
	"strings"
	"unicode"
)

// DefaultDims 是指纹与向量持久化使用的默认维度。
const DefaultDims = 64

// HashEmbedder 通过词元哈希生成确定性向量，同一文本始终得到同一结果。
// 不具备语义质量，仅作为内容指纹与粗略相似度的代理。
type HashEmbedder struct{}

// Embed 将文本映射为 L2 归一化的定长向量。
func (HashEmbedder) Embed(text string, dims int) []float64 {
	if dims <= 0 {
		dims = DefaultDims
	}
	vec := make([]float64, dims)

	cleaned := strings.Map(func(r rune) rune {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return ' '
	}, text)

	for _, token := range strings.Fields(cleaned) {
		var h uint32
		for _, c := range token {
			h = h*31 + uint32(c)
		}
		vec[h%uint32(dims)]++
	}

	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		norm = 1
	}
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

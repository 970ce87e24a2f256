package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// HashingModel 使用特征哈希把文本映射为固定维度的向量 (词和相邻词对)，
// 结果经过 L2 归一化。无需外部服务，相同输入总是得到相同向量。
type HashingModel struct {
	dim int
}

var _ Embedding = (*HashingModel)(nil)

// NewHashingModel 创建指定维度的哈希 Embedding 模型。
func NewHashingModel(dim int) (*HashingModel, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("hashing embedding dimension must be positive, got %d", dim)
	}
	return &HashingModel{dim: dim}, nil
}

// Dimension 返回向量维度。
func (m *HashingModel) Dimension() int { return m.dim }

// Embed 为单个文本生成嵌入向量。没有任何词的文本返回零向量。
func (m *HashingModel) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float64, m.dim)
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	for i, tok := range tokens {
		m.add(vec, tok, 1)
		if i > 0 {
			m.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, m.dim)
	if norm == 0 {
		return out, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

// EmbedBatch 为一批文本生成嵌入向量。
func (m *HashingModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i], _ = m.Embed(ctx, text)
	}
	return out, nil
}

// add 累加一个特征；哈希的最高位决定符号以减小碰撞偏差。
func (m *HashingModel) add(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(m.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

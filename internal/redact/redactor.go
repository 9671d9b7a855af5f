// Package redact 将原始无线标识（MAC 地址）转换为不可逆的 token
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"wisefido-crowd/internal/domain"
)

// TokenLength token 固定长度（SHA-256 十六进制）
const TokenLength = sha256.Size * 2

// Redactor 加盐单向哈希，无状态，可并发使用
type Redactor struct {
	salt []byte
}

// NewRedactor 创建 Redactor
func NewRedactor(salt string) *Redactor {
	return &Redactor{salt: []byte(salt)}
}

// Redact 原始标识 -> token；相同输入（忽略大小写与首尾空白）得到相同 token
func (r *Redactor) Redact(raw string) (domain.Token, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return "", domain.ErrInvalidIdentifier
	}
	h := sha256.New()
	h.Write(r.salt)
	h.Write([]byte(normalized))
	return domain.Token(hex.EncodeToString(h.Sum(nil))), nil
}

// RedactAll 批量转换；tokenized=true 表示调用方已提交 token，仅做格式校验
func (r *Redactor) RedactAll(values []string, tokenized bool) ([]domain.Token, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: identifier list is empty", domain.ErrInvalidInput)
	}
	out := make([]domain.Token, 0, len(values))
	for i, v := range values {
		var (
			tok domain.Token
			err error
		)
		if tokenized {
			tok, err = ParseToken(v)
		} else {
			tok, err = r.Redact(v)
		}
		if err != nil {
			return nil, fmt.Errorf("identifier[%d]: %w", i, err)
		}
		out = append(out, tok)
	}
	return out, nil
}

// ParseToken 校验已哈希的 token
func ParseToken(v string) (domain.Token, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if len(v) != TokenLength {
		return "", domain.ErrInvalidIdentifier
	}
	if _, err := hex.DecodeString(v); err != nil {
		return "", domain.ErrInvalidIdentifier
	}
	return domain.Token(v), nil
}

package account

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

// Digest 返回 s 的 UTF-8 字节的十六进制 SHA-256，密码与邮箱共用。
// 不加盐：已保存的摘要格式依赖这一点，换成慢哈希会让旧账号全部无法登录。
func Digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

const (
	resetCodeLength   = 6
	resetCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewResetCode 生成 6 位大写字母数字重置码。
func NewResetCode() (string, error) {
	max := big.NewInt(int64(len(resetCodeAlphabet)))
	code := make([]byte, resetCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate reset code: %w", err)
		}
		code[i] = resetCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}

package util

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
)

// WriteFile 写入文件, 自动创建父目录
func WriteFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// BytesMD5 计算字节数组MD5
func BytesMD5(data []byte) string {
	hash := md5.Sum(data)
	return hex.EncodeToString(hash[:])
}

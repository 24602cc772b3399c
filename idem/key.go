package idem

import "github.com/google/uuid"

// ValidKey 判断幂等键是否为 UUID v4，空串与其他版本均无效
func ValidKey(key string) bool {
	if key == "" {
		return false
	}
	id, err := uuid.Parse(key)
	if err != nil {
		return false
	}
	return id.Version() == 4
}

// canonicalKey 返回幂等键的标准小写连字符形式，无效时 ok 为 false
func canonicalKey(key string) (string, bool) {
	if !ValidKey(key) {
		return "", false
	}
	return uuid.MustParse(key).String(), true
}

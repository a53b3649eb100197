package rediskey

import "fmt"

// Key namespaces (global convention across services)
const (
	QuotaPrefix    = "quota"
	SequencePrefix = "seq"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildQuotaKey returns "quota:{oracle}:{day}"
func BuildQuotaKey(oracle, day string) string {
	return NamespaceKey(QuotaPrefix, fmt.Sprintf("%s:%s", oracle, day))
}

// BuildSequenceKey returns "seq:{prefix}:{day}"
func BuildSequenceKey(prefix, day string) string {
	return NamespaceKey(SequencePrefix, fmt.Sprintf("%s:%s", prefix, day))
}

package util

import (
	"github.com/segmentio/ksuid"
)

// NewID returns a sortable, prefixed identifier such as "cmt_2JY...".
func NewID(prefix string) string {
	id := ksuid.New().String()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

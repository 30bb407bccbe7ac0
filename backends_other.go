//go:build !darwin && cgo

package mev

// Platform backends register themselves at init time; the blank
// imports pick them for this build.
import (
	_ "github.com/zakarumych/mev/backend/null"
	_ "github.com/zakarumych/mev/backend/vulkan"
)

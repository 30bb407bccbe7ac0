//go:build darwin && !cgo

package mev

// Without cgo no native backend is available on darwin; the headless
// backend still registers so tests and tooling run.
import (
	_ "github.com/zakarumych/mev/backend/null"
)

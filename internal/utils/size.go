package utils

import (
	"fmt"
	"math"
)

var sizeUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB", "EiB", "ZiB", "YiB"}

// HumanizeFileSize formats a byte count with binary prefixes and three decimals,
// e.g. 1536 -> "1.500KiB". Negative sizes are formatted by absolute value.
func HumanizeFileSize(size float64) string {
	size = math.Abs(size)
	if size == 0 || math.IsNaN(size) {
		return "0B"
	}

	p := int(math.Floor(math.Log2(size) / 10))
	p = max(0, min(p, len(sizeUnits)-1))

	return fmt.Sprintf("%.3f%s", size/math.Pow(1024, float64(p)), sizeUnits[p])
}

package util

import "log"

var Debug uint64 = 0

// SetDebug changes the verbosity of DPrintf; level 0 silences everything
// above level 0.
func SetDebug(level uint64) {
	Debug = level
}

func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= Debug {
		log.Printf(format, a...)
	}
}

func RoundUp(n uint64, sz uint64) uint64 {
	return (n + sz - 1) / sz
}

func Min(n uint64, m uint64) uint64 {
	if n < m {
		return n
	} else {
		return m
	}
}

func SumOverflows(a uint64, b uint64) bool {
	return a+b < a
}

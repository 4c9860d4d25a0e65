// utilitário pequeno para formatação rápida/consistente de valores em
// headers, sem puxar fmt só para isso.

package ratelimit

import (
	"strconv"
	"time"
)

func formatInt64(v int64) string { return strconv.FormatInt(v, 10) }

// formatRetryAfter arredonda para cima: anunciar um segundo a mais é melhor
// do que convidar um retry ainda dentro da janela.
func formatRetryAfter(d time.Duration) string {
	if d <= 0 {
		return "0"
	}
	secs := int64((d + time.Second - 1) / time.Second)
	return strconv.FormatInt(secs, 10)
}

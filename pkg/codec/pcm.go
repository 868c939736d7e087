package codec

// Clamp16 ограничивает значение диапазоном int16 с насыщением
func Clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// AddSaturate складывает src в dst с насыщением.
// Если src короче dst, недостающие отсчёты считаются тишиной.
func AddSaturate(dst, src []int16) {
	n := len(dst)
	if len(src) < n {
		n = len(src)
	}
	for i := 0; i < n; i++ {
		dst[i] = Clamp16(int32(dst[i]) + int32(src[i]))
	}
}

// Power возвращает среднюю абсолютную амплитуду кадра
func Power(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum int64
	for _, s := range pcm {
		if s < 0 {
			sum -= int64(s)
		} else {
			sum += int64(s)
		}
	}
	return float64(sum) / float64(len(pcm))
}

// Fit приводит кадр к длине SamplesPerFrame, дополняя тишиной или обрезая
func Fit(pcm []int16) []int16 {
	if len(pcm) == SamplesPerFrame {
		return pcm
	}
	out := make([]int16, SamplesPerFrame)
	copy(out, pcm)
	return out
}

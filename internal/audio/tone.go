package audio

import (
	"math"
	"time"

	"github.com/kamihq/kami/internal/pcm"
)

// Tone synthesizes a sine beep as PCM16 mono bytes. The development server
// uses it to stand in for real speech synthesis in audio_response payloads.
func Tone(freq float64, duration time.Duration, sampleRate int) []byte {
	n := int(float64(sampleRate) * duration.Seconds())
	samples := make([]float32, n)
	for i := range samples {
		// Short fade at both ends to avoid clicks.
		env := 1.0
		fade := sampleRate / 100
		if i < fade {
			env = float64(i) / float64(fade)
		} else if n-i < fade {
			env = float64(n-i) / float64(fade)
		}
		samples[i] = float32(0.3 * env * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return pcm.Encode(samples)
}

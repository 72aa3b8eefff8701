package flight

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeDeterministic(t *testing.T) {
	r := Request{Kind: "tts", Model: "m1", Language: "en", Text: "hello world", Format: "wav"}
	require.Equal(t, Compute(r), Compute(r))
}

func TestComputeSensitiveToEachField(t *testing.T) {
	base := Request{Kind: "tts", Model: "m1", Language: "en", Speaker: "p225", Text: "hello", Format: "wav"}
	fp := Compute(base)

	variants := []Request{
		{Kind: "vc", Model: "m1", Language: "en", Speaker: "p225", Text: "hello", Format: "wav"},
		{Kind: "tts", Model: "m2", Language: "en", Speaker: "p225", Text: "hello", Format: "wav"},
		{Kind: "tts", Model: "m1", Language: "de", Speaker: "p225", Text: "hello", Format: "wav"},
		{Kind: "tts", Model: "m1", Language: "en", Speaker: "p226", Text: "hello", Format: "wav"},
		{Kind: "tts", Model: "m1", Language: "en", Speaker: "p225", Text: "goodbye", Format: "wav"},
		{Kind: "tts", Model: "m1", Language: "en", Speaker: "p225", Text: "hello", Format: "mp3"},
	}
	for _, v := range variants {
		require.NotEqual(t, fp, Compute(v), "variant %+v must fingerprint differently", v)
	}
}

func TestComputeFieldBoundaries(t *testing.T) {
	// Adjacent fields must not bleed into each other.
	a := Compute(Request{Kind: "tts", Model: "m1", Speaker: "ab", Text: "c"})
	b := Compute(Request{Kind: "tts", Model: "m1", Speaker: "a", Text: "bc"})
	require.NotEqual(t, a, b)
}

func TestComputeNormalizesWhitespaceAndCase(t *testing.T) {
	a := Compute(Request{Kind: "tts", Model: "m1", Language: "EN", Text: "  hello  ", Format: "WAV"})
	b := Compute(Request{Kind: "tts", Model: "m1", Language: "en", Text: "hello", Format: "wav"})
	require.Equal(t, a, b)
}

func TestComputeAudioByContent(t *testing.T) {
	audio := []byte{0x52, 0x49, 0x46, 0x46, 0x01, 0x02, 0x03}
	clone := append([]byte(nil), audio...)

	a := Compute(Request{Kind: "tts", Model: "m1", Text: "hi", VoiceReference: audio})
	b := Compute(Request{Kind: "tts", Model: "m1", Text: "hi", VoiceReference: clone})
	require.Equal(t, a, b, "identical audio bytes must dedupe")

	clone[0] ^= 0xff
	c := Compute(Request{Kind: "tts", Model: "m1", Text: "hi", VoiceReference: clone})
	require.NotEqual(t, a, c)

	d := Compute(Request{Kind: "tts", Model: "m1", Text: "hi"})
	require.NotEqual(t, a, d, "absent reference differs from present reference")
}

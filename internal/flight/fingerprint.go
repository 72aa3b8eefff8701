// Package flight implements the request fingerprint and the single-flight
// fingerprint cache: concurrent identical requests converge on exactly one
// inference, and every waiter observes the same result.
package flight

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Fingerprint is a deterministic digest over all request parameters that
// affect output bytes. It doubles as the artifact id.
type Fingerprint string

// Request enumerates the parameters folded into a fingerprint. Audio fields
// are hashed by content, never by filename, so renamed or re-uploaded
// references with identical bytes still dedupe.
type Request struct {
	// Kind separates operations sharing a parameter shape: "tts" or "vc".
	Kind     string
	Model    string
	Language string
	Speaker  string
	Text     string
	Format   string
	// Voice-cloning reference audio (tts).
	VoiceReference []byte
	// Source and target audio (vc).
	SourceAudio []byte
	TargetVoice []byte
}

// Compute renders the request canonically and digests it. The device is
// deliberately excluded: the same parameters produce the same audio
// regardless of where the model runs, so requests targeting different
// devices still share one computation.
func Compute(r Request) Fingerprint {
	h := sha256.New()
	writeField(h, "kind", r.Kind)
	writeField(h, "model", r.Model)
	writeField(h, "lang", strings.ToLower(strings.TrimSpace(r.Language)))
	writeField(h, "speaker", strings.TrimSpace(r.Speaker))
	writeField(h, "text", strings.TrimSpace(r.Text))
	writeField(h, "format", strings.ToLower(strings.TrimSpace(r.Format)))
	writeAudioField(h, "voice_ref", r.VoiceReference)
	writeAudioField(h, "source", r.SourceAudio)
	writeAudioField(h, "target", r.TargetVoice)
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

func writeField(h interface{ Write([]byte) (int, error) }, key, val string) {
	fmt.Fprintf(h, "%s=%s\n", key, val)
}

func writeAudioField(h interface{ Write([]byte) (int, error) }, key string, audio []byte) {
	if len(audio) == 0 {
		writeField(h, key, "")
		return
	}
	sum := sha256.Sum256(audio)
	writeField(h, key, hex.EncodeToString(sum[:]))
}

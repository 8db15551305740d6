package daemon

import (
	"context"

	"github.com/koromind/koro/internal/metrics"
	"github.com/koromind/koro/pkg/voice"
)

// instrumentedVoice wraps a speech engine and counts every provider
// call by direction and outcome.
type instrumentedVoice struct {
	engine  voice.Engine
	metrics *metrics.Metrics
}

func newInstrumentedVoice(engine voice.Engine, m *metrics.Metrics) *instrumentedVoice {
	return &instrumentedVoice{engine: engine, metrics: m}
}

func (v *instrumentedVoice) Transcribe(ctx context.Context, audio []byte, languageHint string) (string, error) {
	text, err := v.engine.Transcribe(ctx, audio, languageHint)
	v.metrics.VoiceCallsTotal.WithLabelValues("transcribe", outcomeOf(err)).Inc()
	return text, err
}

func (v *instrumentedVoice) Synthesize(ctx context.Context, text string, speed float64) ([]byte, error) {
	audio, err := v.engine.Synthesize(ctx, text, speed)
	v.metrics.VoiceCallsTotal.WithLabelValues("synthesize", outcomeOf(err)).Inc()
	return audio, err
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

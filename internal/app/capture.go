package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/pipeline"
	"github.com/MrWong99/voxbridge/pkg/provider/vad"
)

// maxUtterance caps the audio kept for one utterance. Speech past the cap
// is still segmented but not transcribed.
const maxUtterance = 30 * time.Second

// captureLoop consumes the input buffer, segments it into utterances with
// the VAD and hands every completed utterance to handleUtterance.
//
// Utterances are captured in every state, so the speech that barged in on
// a reply becomes the next user turn. What happens to a finished utterance
// depends on the state at the time it ends.
func (a *App) captureLoop(ctx context.Context) error {
	sess, gen, err := a.newVADSession()
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	limit := int(maxUtterance.Seconds() * float64(a.format.SampleRate))
	var (
		utterance []int16
		active    bool
	)

	for ctx.Err() == nil {
		frame, ok := a.in.Read(true, a.cfg.Audio.ReadTimeout())
		if !ok {
			continue
		}

		if cur := a.vadGen.Load(); cur != gen {
			next, nextGen, err := a.newVADSession()
			if err != nil {
				slog.Warn("vad session rebuild failed, keeping previous settings", "err", err)
				gen = cur
			} else {
				_ = sess.Close()
				sess, gen = next, nextGen
				utterance, active = utterance[:0], false
			}
		}

		ev, err := sess.ProcessFrame(frame)
		if err != nil {
			slog.Warn("vad error", "err", err)
			continue
		}

		switch ev.Type {
		case vad.SpeechStart:
			active = true
			utterance = append(utterance[:0], frame...)
		case vad.SpeechContinue:
			if active && len(utterance) < limit {
				utterance = append(utterance, frame...)
			}
		case vad.SpeechEnd:
			if !active {
				continue
			}
			active = false
			a.metrics.Utterances.Add(ctx, 1)
			a.handleUtterance(ctx, append(audio.Frame(nil), utterance...))
		}
	}
	return nil
}

// newVADSession opens a session with the current VAD settings and returns
// it with the settings generation it was built from.
func (a *App) newVADSession() (vad.SessionHandle, uint64, error) {
	gen := a.vadGen.Load()
	sess, err := a.providers.VAD.NewSession(*a.vadCfg.Load())
	if err != nil {
		return nil, gen, fmt.Errorf("app: vad session: %w", err)
	}
	return sess, gen, nil
}

// handleUtterance routes a finished utterance. While listening it ends the
// utterance and starts a turn; while idle it is checked for the wake phrase.
// Speech that ends while a reply is being prepared or played without having
// interrupted it is dropped.
func (a *App) handleUtterance(ctx context.Context, samples []int16) {
	switch state := a.machine.State(); state {
	case pipeline.StateListening:
		tctx, id, ok := a.openTurn(ctx)
		if !ok {
			return
		}
		a.workers.Go(func() { a.runTurn(tctx, id, samples, "") })

	case pipeline.StateIdle:
		if a.wake.Load() == nil {
			return
		}
		a.workers.Go(func() { a.checkWake(ctx, samples) })

	default:
		slog.Debug("utterance dropped", "state", state, "duration", a.samplesDuration(len(samples)))
	}
}

// checkWake transcribes an utterance heard while idle and starts listening
// if it contains the wake phrase. Words following the phrase in the same
// utterance become the first turn.
func (a *App) checkWake(ctx context.Context, samples []int16) {
	m := a.wake.Load()
	if m == nil {
		return
	}
	tr, err := a.transcribe(ctx, samples)
	if err != nil {
		slog.Warn("wake word transcription failed", "err", err)
		return
	}
	det, ok := m.Detect(tr.Text)
	if !ok {
		slog.Debug("wake phrase not heard", "text", tr.Text)
		return
	}
	if !a.machine.WakeWordDetected() {
		return
	}
	a.metrics.WakeWords.Add(ctx, 1)
	slog.Info("wake phrase detected", "heard", det.Heard, "score", det.Score)

	if det.Remainder == "" {
		return
	}
	if tctx, id, ok := a.openTurn(ctx); ok {
		a.runTurn(tctx, id, nil, det.Remainder)
	}
}

func (a *App) samplesDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(a.format.SampleRate)
}

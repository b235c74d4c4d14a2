package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/pipeline"
	"github.com/MrWong99/voxbridge/pkg/provider/stt"
)

// drainStall is how long the output buffer may stay non-empty without the
// device consuming a frame before a reply is considered played out.
const drainStall = 2 * time.Second

// errNotProcessing reports that the machine left the processing state
// before the reply could be played. The turn is abandoned without recovery.
var errNotProcessing = errors.New("app: pipeline no longer processing")

// errNothingHeard reports an utterance that transcribed to no words.
var errNothingHeard = errors.New("app: nothing recognised")

// openTurn registers a new cancellable turn and then ends the utterance.
// The turn exists before the machine enters processing, so a stop that
// follows the transition always finds it to cancel. Any previous turn is
// cancelled once the transition succeeds. ok is false, and the previous
// registration restored, if the machine was not listening.
func (a *App) openTurn(parent context.Context) (ctx context.Context, id uint64, ok bool) {
	ctx, cancel := context.WithCancel(parent)
	a.turnMu.Lock()
	prev, prevID := a.cancel, a.turnID
	a.turnID++
	id = a.turnID
	a.cancel = cancel
	a.turnMu.Unlock()

	if !a.machine.EndOfUtterance() {
		a.turnMu.Lock()
		if a.turnID == id {
			a.turnID, a.cancel = prevID, prev
		}
		a.turnMu.Unlock()
		cancel()
		return nil, 0, false
	}
	if prev != nil {
		prev()
	}
	a.turns.Add(1)
	return ctx, id, true
}

// endTurn releases the turn registered as id. A newer turn is left alone.
func (a *App) endTurn(id uint64) {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()
	if a.turnID == id && a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}

// cancelTurn cancels the running turn, if any. It is called from the state
// machine observer and must not block.
func (a *App) cancelTurn() {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}

// runTurn answers one user utterance in the turn opened by [App.openTurn]
// and releases the turn when done. samples is transcribed unless text is
// given directly.
//
// A turn ends in one of three ways: the reply plays out and the machine
// returns to listening, the turn is cancelled because the machine left the
// turn phases (barge-in, stop), or a stage fails and the pipeline is reset
// through idle back to listening.
func (a *App) runTurn(ctx context.Context, id uint64, samples []int16, text string) {
	defer a.endTurn(id)

	ctx, span := observe.StartTurn(ctx, id)
	log := observe.Logger(ctx).With("turn", id)
	start := time.Now()

	err := a.answer(ctx, log, samples, text, start)
	switch {
	case err == nil:
		log.Debug("turn complete", "elapsed", time.Since(start))
	case ctx.Err() != nil:
		log.Debug("turn cancelled", "state", a.machine.State())
	case errors.Is(err, errNotProcessing):
		log.Debug("turn abandoned", "state", a.machine.State())
	case errors.Is(err, errNothingHeard):
		log.Debug("no words recognised, listening again")
		a.resetFromProcessing()
	default:
		log.Warn("turn failed", "err", err)
		a.resetFromProcessing()
	}
	if errors.Is(err, errNotProcessing) || errors.Is(err, errNothingHeard) {
		err = nil
	}
	observe.EndSpan(span, err)
}

func (a *App) answer(ctx context.Context, log *slog.Logger, samples []int16, text string, start time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if text == "" {
		tr, err := a.transcribe(ctx, samples)
		if err != nil {
			return err
		}
		text = tr.Text
		log.Info("user said", "text", text, "audio", tr.Duration)
	}
	if strings.TrimSpace(text) == "" {
		return errNothingHeard
	}

	reply, err := a.respond(ctx, text)
	if err != nil {
		return err
	}
	log.Info("reply", "text", reply)
	return a.speak(ctx, reply, start)
}

// resetFromProcessing returns a failed turn's pipeline to listening. A
// processing machine can only leave for speaking or idle, so it passes
// through idle.
func (a *App) resetFromProcessing() {
	if a.machine.State() != pipeline.StateProcessing {
		return
	}
	if a.machine.Stop() {
		a.machine.Start()
	}
}

// transcribe runs the STT provider over samples.
func (a *App) transcribe(ctx context.Context, samples []int16) (_ stt.Transcript, err error) {
	name := a.cfg.Providers.STT.Name
	ctx, span := observe.StartStage(ctx, observe.StageSTT, name)
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	tr, err := a.providers.STT.Transcribe(ctx, stt.Request{
		Samples:    samples,
		SampleRate: a.format.SampleRate,
		Language:   a.cfg.Conversation.Language,
	})
	a.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		a.recordProviderFailure(ctx, name, observe.StageSTT)
		return stt.Transcript{}, fmt.Errorf("app: transcribe: %w", err)
	}
	a.metrics.RecordProviderRequest(ctx, name, observe.StageSTT, "ok")
	return tr, nil
}

// respond sends text to the gateway through the conversation.
func (a *App) respond(ctx context.Context, text string) (_ string, err error) {
	name := a.providers.Gateway.Name()
	ctx, span := observe.StartStage(ctx, observe.StageGateway, name)
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	reply, err := a.conv.Respond(ctx, text)
	a.metrics.GatewayDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		a.recordProviderFailure(ctx, name, observe.StageGateway)
		return "", fmt.Errorf("app: respond: %w", err)
	}
	a.metrics.RecordProviderRequest(ctx, name, observe.StageGateway, "ok")
	return reply, nil
}

func (a *App) recordProviderFailure(ctx context.Context, name, kind string) {
	if ctx.Err() != nil {
		a.metrics.RecordProviderRequest(context.Background(), name, kind, "cancelled")
		return
	}
	a.metrics.RecordProviderRequest(ctx, name, kind, "error")
	a.metrics.RecordProviderError(ctx, name, kind)
}

// speak synthesises reply and plays it. Speaking begins with the first
// synthesised chunk so that silence is not mistaken for a reply. speak
// returns once the output buffer drained, the playback was stopped or ctx
// was cancelled.
func (a *App) speak(ctx context.Context, reply string, turnStart time.Time) (err error) {
	name := a.cfg.Providers.TTS.Name
	ctx, span := observe.StartStage(ctx, observe.StageTTS, name)
	defer func() { observe.EndSpan(span, err) }()

	ctx, cancel := context.WithCancel(ctx)
	start := time.Now()
	chunks, err := a.providers.TTS.SynthesizeStream(ctx, reply)
	if err != nil {
		a.recordProviderFailure(ctx, name, observe.StageTTS)
		cancel()
		return fmt.Errorf("app: synthesize: %w", err)
	}
	defer func() {
		cancel()
		audio.Drain(chunks)
	}()

	var first []int16
	select {
	case c, ok := <-chunks:
		if !ok {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.recordProviderFailure(ctx, name, observe.StageTTS)
			return errors.New("app: synthesize: stream produced no audio")
		}
		first = c
	case <-ctx.Done():
		return ctx.Err()
	}
	a.metrics.TTSFirstAudio.Record(ctx, time.Since(start).Seconds())
	a.metrics.RecordProviderRequest(ctx, name, observe.StageTTS, "ok")

	pb, ok := a.machine.BeginSpeaking()
	if !ok {
		return errNotProcessing
	}
	a.metrics.TurnDuration.Record(ctx, time.Since(turnStart).Seconds())

	w := &replyWriter{
		pb:     pb,
		framer: audio.NewFramer(a.format.FrameSize),
		from:   a.providers.TTS.SampleRate(),
		to:     a.format.SampleRate,
	}
	if w.push(first) {
		for chunk := range chunks {
			if !w.push(chunk) {
				break
			}
		}
	}
	if !pb.Stopped() && ctx.Err() == nil {
		if tail := w.framer.Flush(); tail != nil {
			w.write(tail)
		}
		if w.dropped > 0 {
			slog.Warn("playback frames dropped, output not draining", "frames", w.dropped)
		}
		a.awaitDrain(ctx, pb)
	}

	// Completing a playback that an interruption or stop already ended is
	// a no-op.
	a.machine.PlaybackComplete(pb)
	return nil
}

// replyWriter turns synthesised chunks into pipeline frames.
type replyWriter struct {
	pb       *pipeline.Playback
	framer   *audio.Framer
	from, to int
	dropped  int
}

// push resamples and frames chunk and writes every complete frame. It
// returns false once the playback has been stopped.
func (w *replyWriter) push(chunk []int16) bool {
	for _, f := range w.framer.Push(audio.ResampleMono(chunk, w.from, w.to)) {
		if !w.write(f) {
			return false
		}
	}
	return true
}

func (w *replyWriter) write(f audio.Frame) bool {
	if w.pb.Write(f) {
		return true
	}
	if w.pb.Stopped() {
		return false
	}
	w.dropped++
	return true
}

// awaitDrain polls the output buffer at frame cadence until the device has
// played everything queued, the playback is stopped or ctx is cancelled. A
// device that stops consuming for drainStall is treated as drained.
func (a *App) awaitDrain(ctx context.Context, pb *pipeline.Playback) {
	ticker := time.NewTicker(a.format.FrameDuration())
	defer ticker.Stop()

	last, lastMove := a.out.Len(), time.Now()
	for {
		n := a.out.Len()
		if n == 0 {
			return
		}
		if n != last {
			last, lastMove = n, time.Now()
		} else if time.Since(lastMove) > drainStall {
			slog.Warn("output not draining, completing playback", "pending", n)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-pb.Done():
			return
		case <-ticker.C:
		}
	}
}

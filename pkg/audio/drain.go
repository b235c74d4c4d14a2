package audio

// Drain discards values from ch until it is closed. A reply abandoned by a
// barge-in is drained so the synthesis goroutine feeding it can exit.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}

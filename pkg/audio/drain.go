package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when a producer is still writing to a
// [Clip] that will never be played.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}

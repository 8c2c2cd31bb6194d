package common

func Output[T any](to chan T, from <-chan T) {
	go func() {
		for msg := range from {
			to <- msg
		}
	}()
}

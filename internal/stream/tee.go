// Package stream holds the fan-out primitive that splits one process output
// channel into independent readers.
package stream

// Tee splits src into n channels. Every branch receives every chunk from src
// in order. Each branch queues without bound, so a slow reader on one branch
// never blocks or starves another. Branches close once src is closed and
// their queue has drained.
func Tee(src <-chan string, n int) []<-chan string {
	if n < 1 {
		n = 1
	}
	inputs := make([]chan string, n)
	outputs := make([]<-chan string, n)
	for i := range inputs {
		in := make(chan string)
		out := make(chan string)
		inputs[i] = in
		outputs[i] = out
		go queue(in, out)
	}

	go func() {
		for chunk := range src {
			for _, in := range inputs {
				in <- chunk
			}
		}
		for _, in := range inputs {
			close(in)
		}
	}()

	return outputs
}

// queue moves chunks from in to out, buffering whatever out has not taken
// yet. The send case is only enabled while the buffer is non-empty.
func queue(in <-chan string, out chan<- string) {
	defer close(out)

	var pending []string
	for in != nil || len(pending) > 0 {
		var send chan<- string
		var next string
		if len(pending) > 0 {
			send = out
			next = pending[0]
		}

		select {
		case chunk, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			pending = append(pending, chunk)
		case send <- next:
			pending[0] = ""
			pending = pending[1:]
		}
	}
}

package device

// SendProgress tracks a byte transfer split into fixed-size objects, each of
// which is itself streamed as small packets. It performs no I/O and is not
// safe for concurrent use; owners confine it to their event queue.
type SendProgress struct {
	totalLength       int
	maxObjectLength   int
	objectIndices     []int // start offset of each object
	currentObject     int
	bytesSent         int
	bytesReceived     int
	lastExecutedIndex int
}

// Initialize splits totalLength bytes into objects of at most maxObjectLength
// bytes and resets all counters. A maxObjectLength that is not smaller than
// totalLength, or not positive, yields a single object.
func (p *SendProgress) Initialize(totalLength, maxObjectLength int) {
	if totalLength < 0 {
		totalLength = 0
	}
	p.totalLength = totalLength
	p.maxObjectLength = maxObjectLength
	p.currentObject = 0
	p.bytesSent = 0
	p.bytesReceived = 0
	p.lastExecutedIndex = -1

	if maxObjectLength > 0 && maxObjectLength < totalLength {
		count := (totalLength + maxObjectLength - 1) / maxObjectLength
		p.objectIndices = make([]int, count)
		for i := range p.objectIndices {
			p.objectIndices[i] = i * maxObjectLength
		}
		return
	}

	p.maxObjectLength = totalLength
	p.objectIndices = []int{0}
}

// TotalLength returns the number of bytes in the whole transfer.
func (p *SendProgress) TotalLength() int { return p.totalLength }

// MaxObjectLength returns the effective object size.
func (p *SendProgress) MaxObjectLength() int { return p.maxObjectLength }

// ObjectCount returns the number of objects the transfer was split into.
func (p *SendProgress) ObjectCount() int { return len(p.objectIndices) }

// CurrentObject returns the index of the object being sent.
func (p *SendProgress) CurrentObject() int { return p.currentObject }

// ObjectOffset returns the start offset of object i.
func (p *SendProgress) ObjectOffset(i int) int {
	if i < 0 || i >= len(p.objectIndices) {
		return p.totalLength
	}
	return p.objectIndices[i]
}

// ObjectLength returns the size of object i.
func (p *SendProgress) ObjectLength(i int) int {
	if i < 0 || i >= len(p.objectIndices) {
		return 0
	}
	if i == len(p.objectIndices)-1 {
		return p.totalLength - p.objectIndices[i]
	}
	return p.objectIndices[i+1] - p.objectIndices[i]
}

func (p *SendProgress) isLastObject() bool {
	return p.currentObject >= len(p.objectIndices)-1
}

// CurrentObjectAvailableLength returns the bytes still to send within the
// current object.
func (p *SendProgress) CurrentObjectAvailableLength() int {
	var remaining int
	if p.isLastObject() {
		remaining = p.totalLength - p.bytesSent
	} else {
		remaining = p.objectIndices[p.currentObject+1] - p.bytesSent
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

// BytesSentAdd records n more bytes sent. The counter never exceeds the total.
func (p *SendProgress) BytesSentAdd(n int) {
	if n <= 0 {
		return
	}
	p.bytesSent = min(p.bytesSent+n, p.totalLength)
}

// BytesSentSet overwrites the sent counter.
func (p *SendProgress) BytesSentSet(n int) {
	p.bytesSent = max(0, min(n, p.totalLength))
}

// BytesSent returns the number of bytes sent so far.
func (p *SendProgress) BytesSent() int { return p.bytesSent }

// BytesReceivedSet records the offset acknowledged by the peer.
func (p *SendProgress) BytesReceivedSet(n int) { p.bytesReceived = n }

// BytesReceived returns the offset last acknowledged by the peer.
func (p *SendProgress) BytesReceived() int { return p.bytesReceived }

// IsComplete reports whether every byte has been sent.
func (p *SendProgress) IsComplete() bool {
	return p.bytesSent >= p.totalLength
}

// IsObjectComplete reports whether the current object has been fully sent.
func (p *SendProgress) IsObjectComplete() bool {
	if p.isLastObject() {
		return p.IsComplete()
	}
	return p.bytesSent-p.objectIndices[p.currentObject] >= p.maxObjectLength
}

// NextObject advances to the next object. On the last object it is a no-op.
func (p *SendProgress) NextObject() {
	if !p.isLastObject() {
		p.currentObject++
	}
}

// ObjectExecuted records that the current object was committed by the peer.
func (p *SendProgress) ObjectExecuted() {
	p.lastExecutedIndex = p.currentObject
}

// LastExecutedObject returns the index of the last committed object, or -1.
func (p *SendProgress) LastExecutedObject() int { return p.lastExecutedIndex }

// PercentComplete returns bytesSent*100/totalLength, or 0 for an empty transfer.
func (p *SendProgress) PercentComplete() int {
	if p.totalLength == 0 {
		return 0
	}
	return p.bytesSent * 100 / p.totalLength
}

package bridge

import "time"

// audioLimiter is a token bucket over inbound audio, limiting both chunks
// per second and bytes per second with a bounded burst.
type audioLimiter struct {
	now          func() time.Time
	chunkRate    int64
	chunkTokens  int64
	byteRate     int64
	byteTokens   int64
	burstSeconds int64
	lastRefill   time.Time
}

func newAudioLimiter(now func() time.Time, chunksPerSecond int, bytesPerSecond int64, burstSeconds int) *audioLimiter {
	if chunksPerSecond <= 0 && bytesPerSecond <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}

	l := &audioLimiter{
		now:          now,
		chunkRate:    int64(chunksPerSecond),
		byteRate:     bytesPerSecond,
		burstSeconds: int64(burstSeconds),
		lastRefill:   now(),
	}
	if l.chunkRate > 0 {
		l.chunkTokens = l.chunkRate * l.burstSeconds
	}
	if l.byteRate > 0 {
		l.byteTokens = l.byteRate * l.burstSeconds
	}
	return l
}

func (l *audioLimiter) Allow(chunkBytes int) bool {
	if l == nil {
		return true
	}
	l.refill()

	if l.chunkRate > 0 && l.chunkTokens < 1 {
		return false
	}
	if chunkBytes < 0 {
		chunkBytes = 0
	}
	if l.byteRate > 0 && l.byteTokens < int64(chunkBytes) {
		return false
	}
	if l.chunkRate > 0 {
		l.chunkTokens--
	}
	if l.byteRate > 0 {
		l.byteTokens -= int64(chunkBytes)
	}
	return true
}

func (l *audioLimiter) refill() {
	now := l.now()
	if l.lastRefill.IsZero() {
		l.lastRefill = now
		return
	}
	elapsed := now.Sub(l.lastRefill)
	if elapsed <= 0 {
		return
	}

	if l.chunkRate > 0 {
		add := (elapsed.Nanoseconds() * l.chunkRate) / int64(time.Second)
		if add > 0 {
			l.chunkTokens += add
			if maxTokens := l.chunkRate * l.burstSeconds; l.chunkTokens > maxTokens {
				l.chunkTokens = maxTokens
			}
		}
	}
	if l.byteRate > 0 {
		add := (elapsed.Nanoseconds() * l.byteRate) / int64(time.Second)
		if add > 0 {
			l.byteTokens += add
			if maxTokens := l.byteRate * l.burstSeconds; l.byteTokens > maxTokens {
				l.byteTokens = maxTokens
			}
		}
	}

	l.lastRefill = now
}

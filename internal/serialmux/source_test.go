package serialmux

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/eyetrack/internal/calibration"
	"github.com/banshee-data/eyetrack/internal/event"
	"github.com/banshee-data/eyetrack/internal/frame"
	"github.com/banshee-data/eyetrack/internal/timeutil"
)

func TestByteSource_ReadsInBackground(t *testing.T) {
	src := NewByteSource(strings.NewReader("10 20 30\n40 50"), 0, nil)
	<-src.Done()

	assert.Equal(t, 14, src.Available())
	buf := make([]byte, 9)
	n, err := src.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "10 20 30\n", string(buf[:n]))
	assert.Equal(t, 5, src.Available())

	n, err = src.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "40 50", string(buf[:n]))

	// the reader hit EOF; once drained Read reports it
	_, err = src.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, src.Err())

	st := src.Stats()
	assert.Equal(t, uint64(14), st.Received)
	assert.Zero(t, st.Pending)
}

func TestByteSource_EmptyReadDoesNotBlock(t *testing.T) {
	port := newBlockingPort()
	src := NewByteSource(port, 0, nil)
	defer port.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		n, err := src.Read(make([]byte, 8))
		assert.Zero(t, n)
		assert.NoError(t, err)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Read blocked on an empty source")
	}
}

func TestByteSource_PendingLimitKeepsNewest(t *testing.T) {
	src := NewByteSource(strings.NewReader("0123456789"), 4, nil)
	<-src.Done()

	buf := make([]byte, 8)
	n, _ := src.Read(buf)
	assert.Equal(t, "6789", string(buf[:n]))
	assert.Equal(t, uint64(6), src.Stats().Dropped)
}

func TestByteSource_ReadGapReportsDrops(t *testing.T) {
	src := NewByteSource(strings.NewReader("0123456789"), 4, nil)
	<-src.Done()

	buf := make([]byte, 2)
	n, gap, err := src.ReadGap(buf)
	require.NoError(t, err)
	assert.True(t, gap)
	assert.Equal(t, "67", string(buf[:n]))

	n, gap, _ = src.ReadGap(buf)
	assert.False(t, gap)
	assert.Equal(t, "89", string(buf[:n]))
}

func TestByteSource_ReadGapWithoutDrops(t *testing.T) {
	src := NewByteSource(strings.NewReader("1 2 3\n"), 0, nil)
	<-src.Done()
	_, gap, err := src.ReadGap(make([]byte, 8))
	require.NoError(t, err)
	assert.False(t, gap)
}

func TestByteSource_DecoderSkipsTrimmedLine(t *testing.T) {
	// the limit keeps "2.25 4.5 6\n", the tail of "12.25 4.5 6\n"
	src := NewByteSource(strings.NewReader("100 200 300\n12.25 4.5 6\n"), 11, nil)
	<-src.Done()

	d := frame.NewDecoder(frame.Config{SamplingRateHz: 120}, timeutil.NewMockClock(time.Unix(0, 0)))
	var prev event.Position
	var out event.Collection
	require.NoError(t, d.Decode(src, calibration.NewState(), &prev, 0, &out))

	assert.Zero(t, out.Len())
	assert.Equal(t, uint64(1), d.Stats().Resyncs)
	assert.Equal(t, uint64(13), src.Stats().Dropped)
}

func TestByteSource_Discard(t *testing.T) {
	src := NewByteSource(strings.NewReader("abc"), 0, nil)
	<-src.Done()
	assert.Equal(t, 3, src.Discard())
	assert.Zero(t, src.Available())
}

func TestByteSource_ReaderError(t *testing.T) {
	port := newBlockingPort()
	boom := errors.New("device unplugged")
	port.ReadError = boom
	src := NewByteSource(port, 0, nil)
	<-src.Done()
	assert.ErrorIs(t, src.Err(), boom)
}

func TestByteSource_OnData(t *testing.T) {
	var chunks []string
	src := NewByteSource(strings.NewReader("xyz"), 0, func(p []byte) {
		chunks = append(chunks, string(p))
	})
	<-src.Done()
	assert.Equal(t, []string{"xyz"}, chunks)
}

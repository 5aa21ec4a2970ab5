package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) == 0 {
		f.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error { return nil }

func TestDeadLetterReader_CommitsOnlyHandledMessages(t *testing.T) {
	// Round-trip through the writer so headers match what Send produces.
	w := &fakeWriter{}
	sink := newDeadLetterWriter(w, "")
	for _, id := range []string{"ok-1", "bad", "ok-2"} {
		require.NoError(t, sink.Send(context.Background(), DeadLetter{
			TaskID: id, Queue: "tasks:low", Attempts: 4, Error: "boom", Raw: []byte(`{"id":"` + id + `"}`),
		}))
	}
	for i := range w.msgs {
		w.msgs[i].Offset = int64(i)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fr := &fakeReader{msgs: w.msgs, cancel: cancel}
	r := &deadLetterReader{reader: fr, logger: discardLogger}

	var seen []DeadLetter
	err := r.Consume(ctx, func(_ context.Context, dl DeadLetter) error {
		seen = append(seen, dl)
		if dl.TaskID == "bad" {
			return errors.New("queue unavailable")
		}
		return nil
	})
	require.NoError(t, err, "cancellation is a normal shutdown")

	require.Len(t, seen, 3)
	assert.Equal(t, "tasks:low", seen[0].Queue)
	assert.Equal(t, 4, seen[0].Attempts)
	assert.Equal(t, "boom", seen[0].Error)
	assert.Equal(t, []byte(`{"id":"ok-1"}`), seen[0].Raw)
	assert.Equal(t, []int64{0, 2}, fr.committed)
}

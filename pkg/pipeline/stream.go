package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/harunnryd/turjumaad/pkg/adapters/translate"
	"github.com/harunnryd/turjumaad/pkg/errorsx"
	"github.com/harunnryd/turjumaad/pkg/metrics"
)

// stream delivers a translation as it arrives. The first non-blank fragment
// is sent as a new partial message; later fragments edit it at most once per
// interval; the end of the stream writes the final text with Partial unset.
// Once ctx ends the buffer is dropped and no further edits are made.
func (r *run) stream(ctx context.Context, st translate.StreamingTranslator, text, transcript string) error {
	deltas, err := st.Stream(ctx, text)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTranslateTransport)
	}

	var (
		buf      strings.Builder
		ref      MessageRef
		sent     bool
		lastPush = r.c.now()
		edits    int
	)
	partial := func() Result {
		return r.rendered(Result{SourceText: transcript, TranslatedText: buf.String(), Partial: true})
	}

	for {
		select {
		case <-ctx.Done():
			r.log.Debug("stream_abandoned", slog.Int("buffered_chars", buf.Len()))
			return ctx.Err()
		case d, ok := <-deltas:
			if !ok {
				return r.finishStream(ctx, ref, sent, buf.String(), transcript, edits)
			}
			if d.Err != nil {
				return errorsx.Wrap(d.Err, errorsx.ReasonTranslateTransport)
			}
			if d.Text == "" {
				continue
			}
			if buf.Len() == 0 {
				r.record(metrics.EventTranslateFirst, 0, map[string]string{metrics.TagProvider: r.c.translator.Name()})
			}
			buf.WriteString(d.Text)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !sent {
				if strings.TrimSpace(buf.String()) == "" {
					continue
				}
				ref, err = r.sink.Send(ctx, partial())
				if err != nil {
					return r.deliveryFailed(err)
				}
				sent = true
				lastPush = r.c.now()
				continue
			}
			if now := r.c.now(); now.Sub(lastPush) >= r.c.streaming.Interval {
				lastPush = now
				if err := r.sink.Update(ctx, ref, partial()); err != nil {
					// Intermediate edits are cosmetic; the final one decides.
					r.log.Warn("stream_update_failed", slog.String("error", err.Error()))
					continue
				}
				edits++
			}
		}
	}
}

func (r *run) finishStream(ctx context.Context, ref MessageRef, sent bool, buffered, transcript string, edits int) error {
	final := strings.TrimSpace(buffered)
	if final == "" {
		return errorsx.New(errorsx.ReasonTranslateEmpty, "translation stream ended empty")
	}
	r.record(metrics.EventTranslateDone, float64(len(final)), map[string]string{metrics.TagProvider: r.c.translator.Name()})
	if err := ctx.Err(); err != nil {
		return err
	}
	res := Result{SourceText: transcript, TranslatedText: final}
	if !sent {
		return r.send(ctx, res)
	}
	if err := r.sink.Update(ctx, ref, r.rendered(res)); err != nil {
		return r.deliveryFailed(err)
	}
	r.log.Debug("stream_finished", slog.Int("edits", edits+1), slog.Int("chars", len(final)))
	return nil
}

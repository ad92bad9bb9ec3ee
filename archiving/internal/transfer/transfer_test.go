package transfer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/archtypes"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/objstore"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/objstore/memstore"
)

func pair(src, dst string) archtypes.Pair {
	return archtypes.Pair{Source: src, Destination: dst}
}

func TestOne(t *testing.T) {
	tests := []struct {
		name     string
		seed     func(s *memstore.Store)
		want     archtypes.TransferStatus
		wantData string
	}{
		{
			name:     "copied",
			seed:     func(s *memstore.Store) { s.Put("gs://src/a.bam", []byte("0123456789")) },
			want:     archtypes.StatusCopied,
			wantData: "0123456789",
		},
		{
			name: "missing source",
			seed: func(*memstore.Store) {},
			want: archtypes.StatusMissing,
		},
		{
			name: "duplicate",
			seed: func(s *memstore.Store) {
				s.Put("gs://src/a.bam", []byte("0123456789"))
				s.Put("gs://archive/a.bam", []byte("abcdefghij"))
			},
			want:     archtypes.StatusDuplicate,
			wantData: "abcdefghij",
		},
		{
			name: "stale destination replaced",
			seed: func(s *memstore.Store) {
				s.Put("gs://src/a.bam", []byte("0123456789"))
				s.Put("gs://archive/a.bam", []byte("0123"))
			},
			want:     archtypes.StatusCopied,
			wantData: "0123456789",
		},
		{
			name: "copy failure",
			seed: func(s *memstore.Store) {
				s.Put("gs://src/a.bam", []byte("0123456789"))
				s.Fail(memstore.OpCopy, "gs://src/a.bam", errors.New("throttled"))
			},
			want: archtypes.StatusError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := memstore.New(memstore.WithChunkSize(4))
			tt.seed(s)

			out := One(context.Background(), s, pair("gs://src/a.bam", "gs://archive/a.bam"))
			assert.Equal(t, tt.want, out.Status)
			if tt.want == archtypes.StatusError {
				assert.Error(t, out.Err)
			}
			if tt.wantData != "" {
				got, ok := s.Get("gs://archive/a.bam")
				require.True(t, ok)
				assert.Equal(t, tt.wantData, string(got))
			}
			if tt.want == archtypes.StatusCopied {
				assert.Equal(t, 3, out.Steps)
			}
		})
	}
}

func TestOne_InvalidURI(t *testing.T) {
	out := One(context.Background(), memstore.New(), pair("not a uri", "gs://archive/a"))
	assert.Equal(t, archtypes.StatusError, out.Status)
}

func seeded(n int) (*memstore.Store, []archtypes.Pair) {
	s := memstore.New(memstore.WithChunkSize(2))
	pairs := make([]archtypes.Pair, 0, n)
	for i := 0; i < n; i++ {
		src := fmt.Sprintf("gs://src/f%02d.txt", i)
		s.Put(src, []byte(fmt.Sprintf("content-%d", i)))
		pairs = append(pairs, pair(src, fmt.Sprintf("gs://archive/ws/f%02d.txt", i)))
	}
	return s, pairs
}

func TestEngine_ConservationAndProblems(t *testing.T) {
	s, pairs := seeded(20)
	s.Remove(pairs[3].Source)
	s.Fail(memstore.OpCopy, pairs[7].Source, errors.New("boom"))
	s.Put(pairs[9].Destination, []byte(fmt.Sprintf("content-%d", 9)))

	var progressCalls int
	res := New(s.Factory(), WithWorkers(4), WithProgress(func(archtypes.TransferCounts) {
		progressCalls++
	})).Run(context.Background(), pairs)

	assert.True(t, res.Counts.Conserved())
	assert.Equal(t, archtypes.TransferCounts{Total: 20, Copied: 17, Duplicate: 1, Missing: 1, Error: 1}, res.Counts)
	assert.Equal(t, []archtypes.Pair{pairs[3]}, res.Missing)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, pairs[7], res.Errors[0].Pair)
	assert.Equal(t, 20, progressCalls)
}

func TestEngine_SecondRunIsAllDuplicate(t *testing.T) {
	s, pairs := seeded(12)
	eng := New(s.Factory(), WithWorkers(3))

	first := eng.Run(context.Background(), pairs)
	require.Equal(t, 12, first.Counts.Copied)

	copiesBefore := s.Stats().CopyCalls
	second := eng.Run(context.Background(), pairs)
	assert.Equal(t, archtypes.TransferCounts{Total: 12, Duplicate: 12}, second.Counts)
	assert.Equal(t, copiesBefore, s.Stats().CopyCalls)
}

func TestEngine_CancellationMarksUnresolvedAsError(t *testing.T) {
	s, pairs := seeded(10)
	ctx, cancel := context.WithCancel(context.Background())
	s.OnOp(func(op memstore.Op, u objstore.URI) {
		if op == memstore.OpCopy && u.String() == pairs[1].Source {
			cancel()
		}
	})

	var recorded int
	res := New(s.Factory(), WithWorkers(1), WithRecorder(func(archtypes.Pair, Outcome) {
		recorded++
	})).Run(ctx, pairs)

	assert.True(t, res.Counts.Conserved())
	assert.Equal(t, 10, res.Counts.Total)
	assert.Equal(t, 10, recorded)
	assert.GreaterOrEqual(t, res.Counts.Error, 8)
	for _, f := range res.Errors {
		assert.ErrorIs(t, f.Err, context.Canceled)
	}
}

func TestEngine_SetupFailure(t *testing.T) {
	_, pairs := seeded(3)
	factory := func(context.Context) (objstore.Store, error) {
		return nil, errors.New("no credentials")
	}
	res := New(factory).Run(context.Background(), pairs)
	assert.Equal(t, archtypes.TransferCounts{Total: 3, Error: 3}, res.Counts)
}

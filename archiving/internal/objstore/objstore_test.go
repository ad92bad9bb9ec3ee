package objstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    URI
		wantErr bool
	}{
		{
			name:  "object",
			input: "gs://src/dir/a.bam",
			want:  URI{Scheme: "gs", Container: "src", Path: "dir/a.bam"},
		},
		{
			name:  "container with slash",
			input: "s3://archive/",
			want:  URI{Scheme: "s3", Container: "archive"},
		},
		{
			name:  "container",
			input: "s3://archive",
			want:  URI{Scheme: "s3", Container: "archive"},
		},
		{name: "no scheme", input: "not-a-uri", wantErr: true},
		{name: "empty scheme", input: "://b/k", wantErr: true},
		{name: "empty container", input: "gs:///k", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURI(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, arkerrors.ErrInvalidURI)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestURI_Join(t *testing.T) {
	archive := MustParseURI("gs://archive")

	assert.Equal(t, "gs://archive/ws/sample/s1/cram/a.bam",
		archive.Join("ws", "sample", "s1", "cram", "", "a.bam").String())
	assert.Equal(t, "gs://archive/ws/attributes/ref/b.txt",
		archive.Join("ws", "attributes", "", "ref", "", "b.txt").String())
	assert.Equal(t, "gs://archive/ws/x/1/c",
		MustParseURI("gs://archive/ws").Join("x", "1", "c").String())
}

func TestURI_Accessors(t *testing.T) {
	u := MustParseURI("gs://src/dir/a.bam")

	assert.Equal(t, "a.bam", u.Base())
	assert.Equal(t, "gs://src/", u.Prefix())
	assert.True(t, u.SameContainer(MustParseURI("gs://src/other")))
	assert.False(t, u.SameContainer(MustParseURI("s3://src/other")))
	assert.Equal(t, "", MustParseURI("gs://src").Base())
}

type stepStore struct {
	Store
	steps int
	calls []string
}

func (s *stepStore) Copy(_ context.Context, _, _ URI, token string) (string, error) {
	s.calls = append(s.calls, token)
	if len(s.calls) < s.steps {
		return "t" + string(rune('0'+len(s.calls))), nil
	}
	return "", nil
}

func TestCopyAll(t *testing.T) {
	s := &stepStore{steps: 3}
	steps, err := CopyAll(context.Background(), s, MustParseURI("gs://a/x"), MustParseURI("gs://b/x"))

	require.NoError(t, err)
	assert.Equal(t, 3, steps)
	assert.Equal(t, []string{"", "t1", "t2"}, s.calls)
}

func TestRouter(t *testing.T) {
	r := NewRouter(map[string]Store{"gs": &stepStore{steps: 1}})

	_, err := r.Exists(context.Background(), MustParseURI("s3://b/k"))
	assert.ErrorIs(t, err, arkerrors.ErrUnknownScheme)

	_, err = r.Copy(context.Background(), MustParseURI("gs://b/k"), MustParseURI("s3://b/k"), "")
	assert.ErrorIs(t, err, arkerrors.ErrCrossBackend)

	next, err := r.Copy(context.Background(), MustParseURI("gs://b/k"), MustParseURI("gs://c/k"), "")
	require.NoError(t, err)
	assert.Empty(t, next)
}

package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "object context",
			err:  NewObjectError("transfer", "gs://src/a.bam", ErrObjectNotFound),
			want: "arkyve.transfer gs://src/a.bam: arkyve: object not found",
		},
		{
			name: "record context",
			err:  NewRecordError("update", "sample", "s1", ErrBadStatus),
			want: "arkyve.update sample/s1: arkyve: bad response status",
		},
		{
			name: "table context",
			err:  NewError("plan", ErrMalformedValue).WithTable("sample"),
			want: "arkyve.plan table sample: arkyve: malformed attribute value",
		},
		{
			name: "no context",
			err:  NewError("finalize", ErrInvalidInput),
			want: "arkyve.finalize: arkyve: invalid input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_UnwrapWithMessage(t *testing.T) {
	err := NewObjectError("copy", "s3://b/k", ErrObjectNotFound).WithMessage("source vanished")

	assert.True(t, IsObjectNotFound(err))
	assert.Contains(t, err.Error(), "source vanished")

	var opErr *Error
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &opErr))
	assert.Equal(t, "copy", opErr.Op)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"canceled", fmt.Errorf("x: %w", context.Canceled), CodeCanceled},
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"not found", NewObjectError("exists", "gs://a/b", ErrObjectNotFound), CodeNotFound},
		{"malformed", ErrMalformedValue, CodeInvalidInput},
		{"scheme", ErrUnknownScheme, CodeInvalidConfig},
		{"schema", ErrArtifactSchema, CodeSchemaFailed},
		{"status", ErrBadStatus, CodeService},
		{"storage", NewObjectError("copy", "gs://a/b", errors.New("boom")), CodeStorage},
		{"unknown", errors.New("boom"), CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsGateFailure(t *testing.T) {
	assert.True(t, IsGateFailure(fmt.Errorf("run: %w", ErrTransferGate)))
	assert.True(t, IsGateFailure(ErrUpdateGate))
	assert.False(t, IsGateFailure(ErrWorkspaceAttributes))
}
